//go:build !nats

package notify

import "time"

// Config is the stub shape of the NATS wake-bus configuration when the
// nats build tag is disabled. Its fields are accepted but unused.
type Config struct {
	URL             string
	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectBuffer int
	DedupWindow     time.Duration
}

// DefaultConfig returns a Config carrying only url in non-NATS builds.
func DefaultConfig(url string) Config { return Config{URL: url} }

// NewPublisher always returns Noop() when built without the nats tag, so
// callers that construct a Dispatcher the same way in every build still
// compile: projectors keep working off their own ReadAll polling loop.
func NewPublisher(_ Config) (Publisher, error) {
	return Noop(), nil
}

// NewSubscriber returns a Subscriber whose Signals channel never fires;
// ProjectionRunner's ticker remains the sole driver of progress.
func NewSubscriber(_ Config) (Subscriber, error) {
	return &stubSubscriber{signals: make(chan int64)}, nil
}

type stubSubscriber struct {
	signals chan int64
}

func (s *stubSubscriber) Signals() <-chan int64 { return s.signals }
func (s *stubSubscriber) Close() error          { return nil }
