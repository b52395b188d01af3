package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podcloud/balados-sync/internal/aggregate"
	"github.com/podcloud/balados-sync/internal/eventstore/eventstoretest"
)

func newTestWorker(t *testing.T, store *eventstoretest.MemStore) *Worker {
	t.Helper()
	rt := aggregate.NewRuntime(store, aggregate.DefaultRuntimeConfig())
	leases, err := OpenLeaseStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = leases.Close() })
	return NewWorker(store, rt, nil, leases, Config{
		Interval:      time.Hour,
		CheckpointAge: time.Hour,
		LeaseDuration: time.Minute,
		BatchSize:     10,
	})
}

// TestRunCycle_CompactsAgedUsersAndDeletesSupersededEvents is spec §8 S6:
// a stream whose oldest event predates CHECKPOINT_AGE gets checkpointed
// and its raw events before the checkpoint version are deleted.
func TestRunCycle_CompactsAgedUsersAndDeletesSupersededEvents(t *testing.T) {
	store := eventstoretest.New()
	ctx := context.Background()

	rt := aggregate.NewRuntime(store, aggregate.DefaultRuntimeConfig())
	_, err := rt.Execute(ctx, aggregate.Subscribe{UserIDValue: "u1", Feed: "F1"}, nil)
	require.NoError(t, err)
	_, err = rt.Execute(ctx, aggregate.RecordPlay{UserIDValue: "u1", Feed: "F1", Item: "I1", Position: 5}, nil)
	require.NoError(t, err)

	store.Backdate("u1", time.Now().Add(-2*time.Hour))

	w := newTestWorker(t, store)
	w.runtime = rt
	w.runCycle(ctx)

	evts, err := store.ReadStream(ctx, "u1", 0, 100)
	require.NoError(t, err)
	require.Len(t, evts, 1, "only the UserCheckpoint should remain after compaction")
	assert.Equal(t, "UserCheckpoint", string(evts[0].Type))
}

// TestRunCycle_SkipsUsersWithinCheckpointAge verifies a stream with only
// recent events is left untouched.
func TestRunCycle_SkipsUsersWithinCheckpointAge(t *testing.T) {
	store := eventstoretest.New()
	ctx := context.Background()

	rt := aggregate.NewRuntime(store, aggregate.DefaultRuntimeConfig())
	_, err := rt.Execute(ctx, aggregate.Subscribe{UserIDValue: "u1", Feed: "F1"}, nil)
	require.NoError(t, err)

	w := newTestWorker(t, store)
	w.runtime = rt
	w.runCycle(ctx)

	evts, err := store.ReadStream(ctx, "u1", 0, 100)
	require.NoError(t, err)
	assert.Len(t, evts, 1, "recent stream must not be compacted")
}

// TestCompactUser_LeaseHeldBySomeoneElseSkipsCompaction verifies the
// durable-lease guard: a user already leased to another worker is left
// untouched this cycle.
func TestCompactUser_LeaseHeldBySomeoneElseSkipsCompaction(t *testing.T) {
	store := eventstoretest.New()
	ctx := context.Background()

	rt := aggregate.NewRuntime(store, aggregate.DefaultRuntimeConfig())
	_, err := rt.Execute(ctx, aggregate.Subscribe{UserIDValue: "u1", Feed: "F1"}, nil)
	require.NoError(t, err)
	store.Backdate("u1", time.Now().Add(-2*time.Hour))

	w := newTestWorker(t, store)
	w.runtime = rt

	acquired, err := w.leases.Acquire(ctx, "lease:user:u1", "other-worker", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	w.compactUser(ctx, "u1")

	evts, err := store.ReadStream(ctx, "u1", 0, 100)
	require.NoError(t, err)
	assert.Len(t, evts, 1, "stream must remain uncompacted while held by another worker's lease")
}
