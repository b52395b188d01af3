// Package ratelimit implements the per-user token-bucket rate limiter
// protecting the play-recording ingress (spec §4.6). Unlike
// golang.org/x/time/rate's Limiter, which owns its own internal clock and
// is meant to gate a single in-process caller, spec §4.6 requires a
// bucket whose refill is computed from elapsed wall-clock time against a
// value stored per user_id and checked out explicitly on each call — so
// the bucket here is a small struct implementing the same token-bucket
// algebra x/time/rate uses internally (tokens = min(capacity, tokens +
// elapsed*refillRate)), rather than a direct call into that package. See
// DESIGN.md for the full justification.
package ratelimit

import (
	"sync"
	"time"
)

// DefaultCapacity is the default bucket size (spec §4.6).
const DefaultCapacity = 20

// DefaultRefillRate is the default refill rate in tokens/sec (spec §4.6).
const DefaultRefillRate = 10.0

// Config tunes the Limiter.
type Config struct {
	Capacity   float64
	RefillRate float64 // tokens per second
}

// DefaultConfig returns the spec's defaults.
func DefaultConfig() Config {
	return Config{Capacity: DefaultCapacity, RefillRate: DefaultRefillRate}
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// Limiter is a mutex-guarded map of per-user token buckets (spec §4.6: "State
// is pure in-memory per process; a distributed deployment accepts
// per-process approximation").
type Limiter struct {
	cfg     Config
	mu      sync.Mutex
	buckets map[string]*bucket
}

// New constructs a Limiter. A zero Config is replaced with DefaultConfig.
func New(cfg Config) *Limiter {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.RefillRate <= 0 {
		cfg.RefillRate = DefaultRefillRate
	}
	return &Limiter{cfg: cfg, buckets: make(map[string]*bucket)}
}

// Check refills userID's bucket by elapsed_ms*refill_rate/1000 tokens,
// capped at capacity, then attempts to consume one token (spec §4.6).
// Returns true if the request is allowed.
func (l *Limiter) Check(userID string) bool {
	return l.CheckAt(userID, time.Now())
}

// CheckAt is Check with an explicit clock, used by tests to drive refill
// deterministically without sleeping.
func (l *Limiter) CheckAt(userID string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[userID]
	if !ok {
		b = &bucket{tokens: l.cfg.Capacity, lastRefill: now}
		l.buckets[userID] = b
	} else {
		elapsed := now.Sub(b.lastRefill)
		if elapsed > 0 {
			b.tokens += elapsed.Seconds() * l.cfg.RefillRate
			if b.tokens > l.cfg.Capacity {
				b.tokens = l.cfg.Capacity
			}
			b.lastRefill = now
		}
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Reset discards userID's bucket, returning it to full capacity on next
// Check. Exposed for tests and for operator-triggered resets.
func (l *Limiter) Reset(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, userID)
}

// Len reports the number of tracked buckets. Used by tests asserting
// memory does not grow unbounded.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// EvictIdle drops buckets untouched since before cutoff, bounding memory
// the same way aggregate.Runtime bounds its own cache (spec §5: "aggregate
// cache is a sharded concurrent map; no cross-stream coupling" — the rate
// limiter mirrors that discipline for its own per-user state).
func (l *Limiter) EvictIdle(cutoff time.Time) (evicted int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for userID, b := range l.buckets {
		if b.lastRefill.Before(cutoff) {
			delete(l.buckets, userID)
			evicted++
		}
	}
	return evicted
}
