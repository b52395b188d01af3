//go:build nats

package notify

import (
	"context"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/podcloud/balados-sync/internal/cache"
	"github.com/podcloud/balados-sync/internal/logging"
	"github.com/podcloud/balados-sync/internal/metrics"
)

// WakeSubject is the NATS subject every ProjectionRunner subscribes to.
// A single subject is enough: the payload carries no event data, only the
// global_position that triggered the wake, so every subscriber fanning
// out from the same subject is correct regardless of which read-model
// family it owns.
const WakeSubject = "balados.sync.wake"

// Config configures the NATS-backed wake bus.
type Config struct {
	URL             string
	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectBuffer int
	// DedupWindow collapses wake signals for global positions the local
	// process has already seen within the window, avoiding a poll storm
	// when many events land in the same commit burst. Grounded on the
	// reference's InMemoryDeduplicator (cache.LRUCache-backed).
	DedupWindow time.Duration
}

// DefaultConfig returns sane defaults for a single-NATS-server deployment.
func DefaultConfig(url string) Config {
	return Config{
		URL:             url,
		MaxReconnects:   -1,
		ReconnectWait:   2 * time.Second,
		ReconnectBuffer: 8 * 1024 * 1024,
		DedupWindow:     200 * time.Millisecond,
	}
}

func natsOptions(cfg Config, logger watermill.LoggerAdapter) []natsgo.Option {
	return []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.ReconnectBufSize(cfg.ReconnectBuffer),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("notify: NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("notify: NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}
}

// natsPublisher is the Publisher backed by a core-NATS (non-JetStream)
// watermill publisher: wake signals are fire-and-forget, so the
// durability JetStream buys the event store's own Append doesn't matter
// here.
type natsPublisher struct {
	pub    message.Publisher
	logger watermill.LoggerAdapter
}

// NewPublisher connects a wake-signal Publisher to a NATS server.
func NewPublisher(cfg Config) (Publisher, error) {
	logger := watermill.NewStdLogger(false, false)
	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOptions(cfg, logger),
		Marshaler:   &wmNats.NATSMarshaler{},
	}, logger)
	if err != nil {
		return nil, err
	}
	return &natsPublisher{pub: pub, logger: logger}, nil
}

func (p *natsPublisher) Wake(ctx context.Context, globalPosition int64) {
	msg := message.NewMessage(watermill.NewUUID(), []byte(strconv.FormatInt(globalPosition, 10)))
	msg.SetContext(ctx)
	if err := p.pub.Publish(WakeSubject, msg); err != nil {
		logging.Warn().Err(err).Int64("global_position", globalPosition).Msg("notify: wake publish failed")
		return
	}
	metrics.WakeSignalsPublished.Inc()
}

// natsSubscriber fans wake messages into a buffered int64 channel,
// deduplicating through a short-TTL LFUCache keyed by global position, so
// a repeat of a position already seen within DedupWindow is dropped.
type natsSubscriber struct {
	sub     message.Subscriber
	signals chan int64
	dedup   *cache.LFUCache
	cancel  context.CancelFunc
}

// NewSubscriber subscribes to WakeSubject and returns a Subscriber whose
// Signals channel the caller's ProjectionRunner selects on alongside its
// own ticker.
func NewSubscriber(cfg Config) (Subscriber, error) {
	logger := watermill.NewStdLogger(false, false)
	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:         cfg.URL,
		NatsOptions: natsOptions(cfg, logger),
		Unmarshaler: &wmNats.NATSMarshaler{},
	}, logger)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	messages, err := sub.Subscribe(ctx, WakeSubject)
	if err != nil {
		cancel()
		return nil, err
	}

	window := cfg.DedupWindow
	if window <= 0 {
		window = 200 * time.Millisecond
	}
	s := &natsSubscriber{
		sub:     sub,
		signals: make(chan int64, 256),
		dedup:   cache.NewLFUCache(1024, window),
		cancel:  cancel,
	}
	go s.loop(ctx, messages)
	return s, nil
}

func (s *natsSubscriber) loop(ctx context.Context, messages <-chan *message.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			pos, err := strconv.ParseInt(string(msg.Payload), 10, 64)
			msg.Ack()
			if err != nil {
				continue
			}
			metrics.WakeSignalsReceived.Inc()
			key := strconv.FormatInt(pos, 10)
			if _, seen := s.dedup.Get(key); seen {
				continue
			}
			s.dedup.Set(key, struct{}{})
			select {
			case s.signals <- pos:
			default:
				// A full buffer means the projector is already behind its
				// own ticker; dropping the hint costs nothing but latency.
			}
		}
	}
}

func (s *natsSubscriber) Signals() <-chan int64 { return s.signals }

func (s *natsSubscriber) Close() error {
	s.cancel()
	return s.sub.Close()
}
