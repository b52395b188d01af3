// Package projection implements the durably-checkpointed subscribers that
// transform the event log into the SQL read models of spec §3.4/§4.4: one
// Projector per read-model family, driven by a shared Runner that owns
// the poll loop, the checkpoint transaction, and the retry/backoff policy
// on SQL failure. Grounded on the event-store Append shape in
// internal/eventstore/postgres.go (same pool, same advisory-lock-free
// transactional style) and on the "pgx_store.go"-style single-pool
// transaction pattern from the retrieved go-event-sourcing example.
package projection

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/podcloud/balados-sync/internal/events"
	"github.com/podcloud/balados-sync/internal/eventstore"
	"github.com/podcloud/balados-sync/internal/logging"
	"github.com/podcloud/balados-sync/internal/metrics"
	"github.com/podcloud/balados-sync/internal/notify"
)

// Projector owns one read-model family (spec §3.5: "Read-model rows are
// owned by their projector; nothing else may write them"). Apply must be
// idempotent: it is called at-least-once per event (spec §4.4), so every
// write must be an upsert keyed on the event's natural key and every
// delete must use an idempotent condition.
type Projector interface {
	// Name is this projector's checkpoint-table key (spec §6.3).
	Name() string
	// Apply performs this event's effect on the read model, inside tx,
	// which also carries the checkpoint update (spec §4.4: "commits the
	// mutations together with an update to checkpoints(name) ... in a
	// single database transaction"). Apply must return nil for event
	// types it does not care about.
	Apply(ctx context.Context, tx pgx.Tx, e events.Event) error
}

// DefaultBatchSize bounds how many events one poll cycle reads via
// ReadAll before committing the checkpoint, so a single projector lag
// spike cannot hold one transaction open indefinitely.
const DefaultBatchSize = 200

// DefaultPollInterval is how often Runner calls ReadAll when no wake
// signal has arrived (spec §4.4: "Projectors run independently").
const DefaultPollInterval = 500 * time.Millisecond

// RunnerConfig tunes a Runner.
type RunnerConfig struct {
	BatchSize       int
	PollInterval    time.Duration
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	BackoffMultiple float64
}

// DefaultRunnerConfig returns the spec's implied defaults: small batches,
// sub-second polling, exponential backoff starting at 100ms capped at 30s
// (spec §4.4: "retries with exponential backoff until successful").
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		BatchSize:       DefaultBatchSize,
		PollInterval:    DefaultPollInterval,
		InitialBackoff:  100 * time.Millisecond,
		MaxBackoff:      30 * time.Second,
		BackoffMultiple: 2,
	}
}

// Runner drives a single Projector: read a batch past its checkpoint,
// apply every event plus the checkpoint update in one transaction, retry
// the whole batch with backoff on failure without ever advancing past an
// event it did not successfully apply (spec §4.4 guarantees).
type Runner struct {
	pool      *pgxpool.Pool
	store     eventstore.Store
	projector Projector
	cfg       RunnerConfig
	wake      notify.Subscriber
}

// NewRunner constructs a Runner for projector, reading events through
// store (so projectors observe the same ReadAll ordering contract as any
// other consumer, per spec §4.1) and committing read-model writes plus
// the checkpoint through pool.
func NewRunner(pool *pgxpool.Pool, store eventstore.Store, projector Projector, wake notify.Subscriber, cfg RunnerConfig) *Runner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 100 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.BackoffMultiple <= 1 {
		cfg.BackoffMultiple = 2
	}
	return &Runner{pool: pool, store: store, projector: projector, cfg: cfg, wake: wake}
}

// Serve implements suture.Service: it loops until ctx is canceled,
// reacting to shutdown between events only, never abandoning a
// transaction in progress (spec §5: "Projectors react to shutdown
// between events only").
func (r *Runner) Serve(ctx context.Context) error {
	name := r.projector.Name()
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	var wakeCh <-chan int64
	if r.wake != nil {
		wakeCh = r.wake.Signals()
	}

	backoff := r.cfg.InitialBackoff
	for {
		applied, err := r.runOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.Error().Err(err).Str("subscriber", name).Msg("projection: batch apply failed, backing off")
			metrics.RecordProjectorError(name)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = time.Duration(float64(backoff) * r.cfg.BackoffMultiple)
			if backoff > r.cfg.MaxBackoff {
				backoff = r.cfg.MaxBackoff
			}
			continue
		}
		backoff = r.cfg.InitialBackoff

		if applied == r.cfg.BatchSize {
			// More events may already be waiting; loop immediately
			// instead of waiting for the next tick or wake signal.
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-wakeCh:
		}
	}
}

// runOnce reads one batch past the checkpoint and applies it transactionally.
func (r *Runner) runOnce(ctx context.Context) (int, error) {
	name := r.projector.Name()

	if err := ctx.Err(); err != nil {
		return 0, err
	}
	// Once begun, the batch runs to completion even if ctx is canceled
	// meanwhile; shutdown is observed before the next batch starts.
	ctx = context.WithoutCancel(ctx)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	checkpoint, err := loadCheckpoint(ctx, tx, name)
	if err != nil {
		return 0, err
	}

	batch, err := r.store.ReadAll(ctx, checkpoint, r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, tx.Commit(ctx)
	}

	for _, e := range batch {
		if err := r.projector.Apply(ctx, tx, e); err != nil {
			return 0, err
		}
	}

	newCheckpoint := batch[len(batch)-1].GlobalPosition
	if err := saveCheckpoint(ctx, tx, name, newCheckpoint); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}

	metrics.RecordProjectorApplied(name, newCheckpoint, newCheckpoint)
	return len(batch), nil
}

// loadCheckpoint returns this projector's last_global_position, or 0 if
// it has never run (spec §6.3).
func loadCheckpoint(ctx context.Context, tx pgx.Tx, name string) (int64, error) {
	var pos int64
	err := tx.QueryRow(ctx, `SELECT last_global_position FROM checkpoints WHERE name = $1`, name).Scan(&pos)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return pos, err
}

func saveCheckpoint(ctx context.Context, tx pgx.Tx, name string, pos int64) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO checkpoints (name, last_global_position)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET last_global_position = EXCLUDED.last_global_position`,
		name, pos,
	)
	return err
}
