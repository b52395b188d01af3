// Package notify implements the internal wake-signal bus between the
// Dispatcher and each ProjectionRunner (SPEC_FULL.md DOMAIN STACK). It is
// NEVER a source of truth: a projector's correctness comes entirely from
// its own ReadAll polling loop against Postgres, and the signal carries
// nothing but a global_position hint to poll sooner. Grounded on
// tomtom215/cartographus's internal/eventprocessor publisher/subscriber
// pair (watermill + watermill-nats), narrowed from a general event bus to
// a single best-effort "something changed, poll now" fan-out.
package notify

import (
	"context"

	"github.com/podcloud/balados-sync/internal/metrics"
)

// Publisher is the Dispatcher-facing side of the wake bus (spec §6.6:
// "the popularity projector consumes..." — more generally, anything
// appended wakes every subscriber). Wake is best-effort: a missed or
// delayed wake signal never causes missed events, only a slower catch-up,
// because ProjectionRunner's correctness comes from ReadAll, not from
// this bus.
type Publisher interface {
	Wake(ctx context.Context, globalPosition int64)
}

// Subscriber is the ProjectionRunner-facing side: a channel of wake
// hints. The channel is never closed by normal operation; Close releases
// the underlying NATS resources.
type Subscriber interface {
	Signals() <-chan int64
	Close() error
}

// noop is used when NATS is disabled in the configuration, and by
// NewPublisher in builds without the nats tag: the projector falls back
// to polling on its own ticker interval, exactly as spec §4.4 requires
// ("Projectors run independently... via ReadAll") even with zero wiring.
type noop struct{}

// Noop returns a Publisher that records the wake as a metric and does
// nothing else. Safe default for single-process deployments or tests.
func Noop() Publisher { return noop{} }

func (noop) Wake(_ context.Context, globalPosition int64) {
	metrics.WakeSignalsPublished.Inc()
}
