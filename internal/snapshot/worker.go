package snapshot

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/podcloud/balados-sync/internal/aggregate"
	"github.com/podcloud/balados-sync/internal/events"
	"github.com/podcloud/balados-sync/internal/eventstore"
	"github.com/podcloud/balados-sync/internal/logging"
	"github.com/podcloud/balados-sync/internal/metrics"
)

// popularityStreamID is the fixed system stream PopularityRecalculated
// events are appended to. It is not a user_id: spec §3.2 only requires
// PopularityRecalculated be "emitted by worker; consumed by projector
// only", and nothing in spec §4.1 restricts stream_id to user streams.
const popularityStreamID = "system:popularity"

// popularityLeaseKey is the fixed lease key serializing the
// once-per-cycle popularity recalculation across a worker fleet, so two
// workers never double-emit the same cycle's deltas.
const popularityLeaseKey = "lease:popularity-cycle"

// DefaultInterval is how often Serve runs a compaction cycle.
const DefaultInterval = time.Hour

// DefaultCheckpointAge is the spec's default CHECKPOINT_AGE (spec §4.5).
const DefaultCheckpointAge = 45 * 24 * time.Hour

// DefaultLeaseDuration is how long a worker holds a per-user compaction
// lease before it is assumed crashed and another worker may retry.
const DefaultLeaseDuration = 5 * time.Minute

// DefaultBatchSize bounds how many candidate streams one cycle considers.
const DefaultBatchSize = 200

// Config tunes Worker.
type Config struct {
	Interval      time.Duration
	CheckpointAge time.Duration
	LeaseDuration time.Duration
	BatchSize     int
}

// DefaultConfig returns the spec's defaults.
func DefaultConfig() Config {
	return Config{
		Interval:      DefaultInterval,
		CheckpointAge: DefaultCheckpointAge,
		LeaseDuration: DefaultLeaseDuration,
		BatchSize:     DefaultBatchSize,
	}
}

// Worker is the periodic compaction job of spec §4.5: it finds users
// whose raw event history has grown stale, checkpoints them via the
// aggregate runtime, and deletes the superseded raw events once the
// checkpoint is durably observed. It also recalculates popularity deltas
// once per cycle.
type Worker struct {
	store   eventstore.Store
	runtime *aggregate.Runtime
	pool    *pgxpool.Pool
	leases  *LeaseStore
	cfg     Config
	id      string

	popularityVersion int64
}

// NewWorker constructs a Worker. pool is used only to read the
// podcast_popularity/episode_popularity read models for the once-per-cycle
// popularity recalculation; it never writes read-model rows directly
// (spec §3.5: those belong exclusively to the projector).
func NewWorker(store eventstore.Store, runtime *aggregate.Runtime, pool *pgxpool.Pool, leases *LeaseStore, cfg Config) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.CheckpointAge <= 0 {
		cfg.CheckpointAge = DefaultCheckpointAge
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = DefaultLeaseDuration
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Worker{
		store:   store,
		runtime: runtime,
		pool:    pool,
		leases:  leases,
		cfg:     cfg,
		id:      uuid.NewString(),
	}
}

// Serve implements suture.Service: it runs a compaction+recalculation
// cycle every Interval until ctx is canceled.
func (w *Worker) Serve(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		w.runCycle(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// runCycle is one pass of the worker: compact every eligible user stream,
// then recalculate popularity deltas. Errors on individual users never
// abort the cycle (spec §7: "Infrastructure panics in a worker must not
// abort sibling workers" — generalized here to sibling candidates within
// one worker's own cycle).
func (w *Worker) runCycle(ctx context.Context) {
	cutoff := time.Now().Add(-w.cfg.CheckpointAge)
	candidates, err := w.store.StreamsOlderThan(ctx, cutoff, w.cfg.BatchSize)
	if err != nil {
		logging.Error().Err(err).Msg("snapshot: list candidates failed")
		metrics.RecordSnapshotRun("failed", 0)
		return
	}
	for _, userID := range candidates {
		if ctx.Err() != nil {
			return
		}
		w.compactUser(ctx, userID)
	}
	w.recalculatePopularity(ctx)
}

// compactUser checkpoints and compacts a single user's stream, guarded by
// a durable lease so a fleet of workers never double-compact the same
// user (spec §4.5).
func (w *Worker) compactUser(ctx context.Context, userID string) {
	leaseKey := "lease:user:" + userID
	acquired, err := w.leases.Acquire(ctx, leaseKey, w.id, w.cfg.LeaseDuration)
	if err != nil {
		logging.Error().Err(err).Str("user_id", userID).Msg("snapshot: lease acquire failed")
		metrics.RecordSnapshotRun("failed", 0)
		return
	}
	if !acquired {
		metrics.RecordSnapshotRun("skipped", 0)
		return
	}
	defer func() {
		if rErr := w.leases.Release(ctx, leaseKey, w.id); rErr != nil {
			logging.Error().Err(rErr).Str("user_id", userID).Msg("snapshot: lease release failed")
		}
	}()

	result, err := w.runtime.Execute(ctx, aggregate.Snapshot{UserIDValue: userID}, nil)
	if err != nil {
		logging.Error().Err(err).Str("user_id", userID).Msg("snapshot: checkpoint dispatch failed")
		metrics.RecordSnapshotRun("failed", 0)
		return
	}
	if len(result.GlobalPositions) == 0 {
		// Nothing new to checkpoint (a concurrent command already moved
		// the stream version past what StreamsOlderThan observed).
		metrics.RecordSnapshotRun("skipped", 0)
		return
	}

	// result.GlobalPositions having been returned by a successful Append
	// means the UserCheckpoint event is already durably committed (spec
	// §4.5 safety: "deletion MUST be strictly conditional on the
	// checkpoint being persisted"); no further observation step is
	// needed beyond the Append call already having returned.
	checkpointVersion := result.NewVersion
	deletedApprox := int(checkpointVersion - 1)
	if err := w.store.DeleteStreamEventsBefore(ctx, userID, checkpointVersion); err != nil {
		logging.Error().Err(err).Str("user_id", userID).Int64("keep_from_version", checkpointVersion).
			Msg("snapshot: compaction delete failed")
		metrics.RecordSnapshotRun("failed", 0)
		return
	}
	logging.Info().Str("user_id", userID).Int64("checkpoint_version", checkpointVersion).
		Msg("snapshot: user compacted")
	metrics.RecordSnapshotRun("compacted", deletedApprox)
}

// recalculatePopularity emits PopularityRecalculated for every feed whose
// running counters have drifted from their _previous snapshot since the
// last cycle (spec §4.5/§9): the trending formula itself is a read-side
// concern and intentionally unspecified, so this only carries forward
// the raw counters the popularity projector needs to compute deltas.
func (w *Worker) recalculatePopularity(ctx context.Context) {
	acquired, err := w.leases.Acquire(ctx, popularityLeaseKey, w.id, w.cfg.LeaseDuration)
	if err != nil {
		logging.Error().Err(err).Msg("snapshot: popularity lease acquire failed")
		return
	}
	if !acquired {
		return
	}
	defer func() {
		if rErr := w.leases.Release(ctx, popularityLeaseKey, w.id); rErr != nil {
			logging.Error().Err(rErr).Msg("snapshot: popularity lease release failed")
		}
	}()

	if w.pool == nil {
		return
	}

	rows, err := w.pool.Query(ctx, `
		SELECT feed, score, plays, likes
		FROM podcast_popularity
		WHERE score != score_previous OR plays != plays_previous`)
	if err != nil {
		logging.Error().Err(err).Msg("snapshot: popularity query failed")
		return
	}
	var changed []events.PopularityRecalculatedPayload
	for rows.Next() {
		var p events.PopularityRecalculatedPayload
		if err := rows.Scan(&p.Feed, &p.Score, &p.Plays, &p.Likes); err != nil {
			rows.Close()
			logging.Error().Err(err).Msg("snapshot: popularity scan failed")
			return
		}
		p.ScorePrevious = p.Score
		p.PlaysPrevious = p.Plays
		changed = append(changed, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		logging.Error().Err(err).Msg("snapshot: popularity rows failed")
		return
	}
	if len(changed) == 0 {
		return
	}

	evts := make([]events.Event, 0, len(changed))
	for _, p := range changed {
		e, err := events.NewEvent(popularityStreamID, events.PopularityRecalculated, p, nil)
		if err != nil {
			logging.Error().Err(err).Msg("snapshot: popularity event encode failed")
			return
		}
		evts = append(evts, e)
	}

	if err := w.appendPopularityBatch(ctx, evts); err != nil {
		logging.Error().Err(err).Msg("snapshot: popularity append failed")
		return
	}
	logging.Info().Int("feeds", len(changed)).Msg("snapshot: popularity recalculated")
}

// appendPopularityBatch appends to the fixed popularity system stream,
// re-synchronizing its cached expected version from WrongVersionError's
// ActualVersion on conflict (the same optimistic-retry shape
// aggregate.Runtime uses for per-user streams, narrowed to a single
// writer-at-a-time system stream since the popularity lease already
// serializes callers).
func (w *Worker) appendPopularityBatch(ctx context.Context, evts []events.Event) error {
	for attempt := 0; attempt < 3; attempt++ {
		_, _, err := w.store.Append(ctx, popularityStreamID, w.popularityVersion, evts)
		if err == nil {
			w.popularityVersion += int64(len(evts))
			return nil
		}
		var wrongVersion *eventstore.WrongVersionError
		if errors.As(err, &wrongVersion) {
			w.popularityVersion = wrongVersion.ActualVersion
			continue
		}
		return err
	}
	return errors.New("snapshot: popularity append: version resync exhausted")
}
