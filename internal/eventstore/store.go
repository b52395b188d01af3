// Package eventstore persists the append-only, per-stream event log with a
// global commit position described in spec §4.1/§6.2. The only
// implementation is Postgres-backed (postgres.go); Store is kept as an
// interface so the aggregate runtime and projection runner never import
// pgx directly.
package eventstore

import (
	"context"
	"fmt"
	"time"

	"github.com/podcloud/balados-sync/internal/events"
)

// Store is the durable, ordered, per-stream append log with a global
// position, as specified in spec §4.1.
type Store interface {
	// Append atomically appends events to stream_id, failing with
	// *WrongVersionError if the stream's current version does not equal
	// expectedVersion. expectedVersion=0 means the stream must not yet
	// exist or must currently be empty. Returns the stream's new version
	// and the global_position assigned to each event, in the same order
	// as evts (spec §4.1: "{new_version, assigned_global_positions}").
	Append(ctx context.Context, streamID string, expectedVersion int64, evts []events.Event) (newVersion int64, globalPositions []int64, err error)

	// ReadStream returns events for streamID with stream_version >
	// fromVersion, in ascending version order, at most max events.
	ReadStream(ctx context.Context, streamID string, fromVersion int64, max int) ([]events.Event, error)

	// ReadAll returns events with global_position > fromGlobalPosition,
	// in ascending global position order, at most max events. Used by
	// projectors.
	ReadAll(ctx context.Context, fromGlobalPosition int64, max int) ([]events.Event, error)

	// DeleteStreamEventsBefore physically removes events with
	// stream_version < keepFromVersion. Callers (the snapshot worker)
	// must have already durably appended a UserCheckpoint event at or
	// above keepFromVersion.
	DeleteStreamEventsBefore(ctx context.Context, streamID string, keepFromVersion int64) error

	// StreamsOlderThan returns up to max distinct stream ids whose oldest
	// non-UserCheckpoint event predates olderThan (spec §4.5: "For each
	// user whose oldest non-checkpoint event is older than
	// CHECKPOINT_AGE"). Used only by the snapshot worker to pick
	// compaction candidates.
	StreamsOlderThan(ctx context.Context, olderThan time.Time, max int) ([]string, error)
}

// WrongVersionError is returned by Append when the stream's current
// version does not match the caller's expected version (spec §4.1).
type WrongVersionError struct {
	StreamID        string
	ExpectedVersion int64
	ActualVersion   int64
}

func (e *WrongVersionError) Error() string {
	return fmt.Sprintf("eventstore: wrong version for stream %q: expected %d, actual %d",
		e.StreamID, e.ExpectedVersion, e.ActualVersion)
}

// UnavailableError wraps a transient infrastructure failure: an open or
// throttled circuit breaker. Other pool errors are returned unwrapped. Spec §7 says these propagate unchanged to
// the dispatcher's retry policy as "unavailable"; this type is the
// sentinel the dispatcher matches on.
type UnavailableError struct {
	Cause error
}

func (e *UnavailableError) Error() string { return "eventstore: unavailable: " + e.Cause.Error() }
func (e *UnavailableError) Unwrap() error { return e.Cause }
