package eventstore

import (
	"context"
	"time"

	"github.com/sony/gobreaker/v2"
)

// CircuitBreakerConfig tunes the breaker wrapping every pool call of the
// Postgres store's methods. Mirrors the shape of the reference implementation's
// eventprocessor circuit breaker config.
type CircuitBreakerConfig struct {
	// Name identifies the breaker in logs/metrics.
	Name string
	// MaxRequests allowed through while half-open.
	MaxRequests uint32
	// Interval at which the closed-state failure counter resets.
	Interval time.Duration
	// Timeout the breaker stays open before moving to half-open.
	Timeout time.Duration
	// FailureRatio above which the breaker trips, once MinRequests is met.
	FailureRatio float64
	// MinRequests before FailureRatio is evaluated.
	MinRequests uint32
}

// DefaultCircuitBreakerConfig returns conservative defaults: the breaker
// trips once at least 8 requests in the window have a >=60% failure
// ratio, and stays open for 30s before probing again.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:         name,
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      30 * time.Second,
		FailureRatio: 0.6,
		MinRequests:  8,
	}
}

// cbWrapper adapts gobreaker to the event store's error taxonomy: an open
// or throttled breaker surfaces as *UnavailableError, never a raw
// gobreaker sentinel (spec §7: transient infra failures are
// "unavailable").
type cbWrapper struct {
	cb *gobreaker.CircuitBreaker[any]
}

func newCBWrapper(cfg CircuitBreakerConfig) *cbWrapper {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		},
	}
	return &cbWrapper{cb: gobreaker.NewCircuitBreaker[any](settings)}
}

func (w *cbWrapper) run(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	result, err := w.cb.Execute(func() (any, error) {
		return fn(ctx)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, &UnavailableError{Cause: err}
	}
	return result, err
}
