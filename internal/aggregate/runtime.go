// Package aggregate implements the per-user in-memory state machine: pure
// command handlers and apply functions (commands.go, handlers.go,
// apply.go, state.go), plus the concurrency-safe Runtime that serializes
// commands per user_id and replays/caches state against an EventStore
// (spec §4.2).
package aggregate

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/podcloud/balados-sync/internal/events"
	"github.com/podcloud/balados-sync/internal/eventstore"
)

// DefaultMaxRetries is the bound on optimistic-concurrency retries before
// a command surfaces version_conflict (spec §4.2: "retries up to N times
// (bounded, default 5)").
const DefaultMaxRetries = 5

// DefaultShardCount partitions the user_id keyspace across this many
// independent lock-guarded maps, bounding map-lock contention between
// unrelated users (spec §5: "Different users proceed in parallel").
const DefaultShardCount = 64

// DefaultIdleTTL is how long an aggregate may sit unused in cache before
// the eviction sweep reclaims it (spec §4.2 LRU eviction policy).
const DefaultIdleTTL = 10 * time.Minute

// ErrStreamPoisoned is returned when a prior Apply on this stream failed
// with a corrupted payload; the stream is quarantined until an operator
// intervenes (spec §7).
var ErrStreamPoisoned = errors.New("aggregate: stream poisoned")

// ErrVersionConflict is returned when optimistic-concurrency retries are
// exhausted (spec §4.2/§7).
var ErrVersionConflict = errors.New("aggregate: version conflict")

// RuntimeConfig tunes Runtime.
type RuntimeConfig struct {
	ShardCount int
	IdleTTL    time.Duration
	MaxRetries int
	ReadPageSize int
}

// DefaultRuntimeConfig returns the spec's defaults.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		ShardCount:   DefaultShardCount,
		IdleTTL:      DefaultIdleTTL,
		MaxRetries:   DefaultMaxRetries,
		ReadPageSize: 500,
	}
}

type cacheEntry struct {
	mu       sync.Mutex
	state    *State
	poisoned bool
	lastUsed time.Time
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
}

// Runtime provides the concurrency-safe Execute described in spec §4.2:
// at most one command per user_id in flight at a time, replaying from the
// EventStore on cache miss, retrying on optimistic-concurrency conflicts.
type Runtime struct {
	store  eventstore.Store
	cfg    RuntimeConfig
	shards []*shard
}

// NewRuntime constructs a Runtime backed by store.
func NewRuntime(store eventstore.Store, cfg RuntimeConfig) *Runtime {
	if cfg.ShardCount <= 0 {
		cfg.ShardCount = DefaultShardCount
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.ReadPageSize <= 0 {
		cfg.ReadPageSize = 500
	}
	shards := make([]*shard, cfg.ShardCount)
	for i := range shards {
		shards[i] = &shard{entries: make(map[string]*cacheEntry)}
	}
	return &Runtime{store: store, cfg: cfg, shards: shards}
}

func (r *Runtime) shardFor(userID string) *shard {
	var h uint32 = 2166136261
	for i := 0; i < len(userID); i++ {
		h ^= uint32(userID[i])
		h *= 16777619
	}
	return r.shards[h%uint32(len(r.shards))]
}

func (r *Runtime) entryFor(userID string) *cacheEntry {
	sh := r.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.entries[userID]
	if !ok {
		e = &cacheEntry{}
		sh.entries[userID] = e
	}
	return e
}

// Result is the outcome of a successful Execute.
type Result struct {
	NewVersion      int64
	GlobalPositions []int64
	Events          []events.Event
}

// Execute runs cmd against user_id's aggregate: loads/replays state,
// invokes the pure handler, appends the resulting events with optimistic
// concurrency, applies them to the cached state, and retries on
// WrongVersion up to MaxRetries (spec §4.2 steps 1-6).
func (r *Runtime) Execute(ctx context.Context, cmd Command, meta events.Metadata) (Result, error) {
	userID := cmd.UserID()
	entry := r.entryFor(userID)

	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.lastUsed = time.Now()

	if entry.poisoned {
		return Result{}, ErrStreamPoisoned
	}

	if entry.state == nil {
		state, err := r.replay(ctx, userID)
		if err != nil {
			return Result{}, err
		}
		entry.state = state
	}

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}

		produced, err := Handle(entry.state, cmd, meta)
		if err != nil {
			return Result{}, err
		}
		if len(produced) == 0 {
			return Result{NewVersion: entry.state.StreamVersion}, nil
		}

		startVersion := entry.state.StreamVersion
		for i := range produced {
			produced[i].StreamVersion = startVersion + int64(i) + 1
		}

		newVersion, positions, err := r.store.Append(ctx, userID, startVersion, produced)
		if err != nil {
			var wrongVersion *eventstore.WrongVersionError
			if errors.As(err, &wrongVersion) {
				state, reErr := r.replay(ctx, userID)
				if reErr != nil {
					return Result{}, reErr
				}
				entry.state = state
				continue
			}
			return Result{}, err
		}

		for i := range produced {
			produced[i].GlobalPosition = positions[i]
			if _, err := Apply(entry.state, produced[i]); err != nil {
				entry.poisoned = true
				return Result{}, err
			}
		}

		return Result{NewVersion: newVersion, GlobalPositions: positions, Events: produced}, nil
	}

	return Result{}, ErrVersionConflict
}

// replay rebuilds state from the event store from scratch. Called on
// cache miss and after every optimistic-concurrency conflict.
func (r *Runtime) replay(ctx context.Context, userID string) (*State, error) {
	state := NewState(userID)
	var from int64
	for {
		page, err := r.store.ReadStream(ctx, userID, from, r.cfg.ReadPageSize)
		if err != nil {
			return nil, err
		}
		for _, e := range page {
			if _, err := Apply(state, e); err != nil {
				return nil, err
			}
			from = e.StreamVersion
		}
		if len(page) < r.cfg.ReadPageSize {
			break
		}
	}
	return state, nil
}

// EvictIdle removes cached aggregates whose entry has been idle longer
// than IdleTTL and is not currently locked by an in-flight command. Meant
// to be called periodically by a supervised background loop (see
// EvictionLoop).
func (r *Runtime) EvictIdle(now time.Time) (evicted int) {
	for _, sh := range r.shards {
		sh.mu.Lock()
		for userID, entry := range sh.entries {
			if !entry.mu.TryLock() {
				continue
			}
			if entry.state != nil && now.Sub(entry.lastUsed) > r.cfg.IdleTTL {
				delete(sh.entries, userID)
				evicted++
			}
			entry.mu.Unlock()
		}
		sh.mu.Unlock()
	}
	return evicted
}

// EvictionLoop runs EvictIdle on interval until ctx is canceled. It
// implements suture.Service so it can be supervised like any other
// long-running component.
type EvictionLoop struct {
	Runtime  *Runtime
	Interval time.Duration
}

// Serve blocks, sweeping idle aggregates every Interval, until ctx is done.
func (l *EvictionLoop) Serve(ctx context.Context) error {
	interval := l.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			l.Runtime.EvictIdle(now)
		}
	}
}
