// Package eventstoretest provides an in-memory eventstore.Store
// implementation for unit tests that need a real Store without a
// Postgres instance (aggregate.Runtime, snapshot.Worker). It implements
// the same Append/ReadStream/ReadAll/DeleteStreamEventsBefore/
// StreamsOlderThan contract as eventstore.Postgres, minus transactions
// and the advisory lock (a single mutex stands in for both, since tests
// run single-process).
package eventstoretest

import (
	"context"
	"sync"
	"time"

	"github.com/podcloud/balados-sync/internal/events"
	"github.com/podcloud/balados-sync/internal/eventstore"
)

// MemStore is an in-memory eventstore.Store.
type MemStore struct {
	mu       sync.Mutex
	byStream map[string][]events.Event
	all      []events.Event
	nextPos  int64
}

// New returns an empty MemStore.
func New() *MemStore {
	return &MemStore{byStream: make(map[string][]events.Event)}
}

var _ eventstore.Store = (*MemStore)(nil)

func (m *MemStore) Append(ctx context.Context, streamID string, expectedVersion int64, evts []events.Event) (int64, []int64, error) {
	if len(evts) == 0 {
		return expectedVersion, nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current := int64(len(m.byStream[streamID]))
	if current != expectedVersion {
		return 0, nil, &eventstore.WrongVersionError{StreamID: streamID, ExpectedVersion: expectedVersion, ActualVersion: current}
	}

	positions := make([]int64, 0, len(evts))
	version := expectedVersion
	for _, e := range evts {
		version++
		m.nextPos++
		e.StreamID = streamID
		e.StreamVersion = version
		e.GlobalPosition = m.nextPos
		if e.RecordedAt.IsZero() {
			e.RecordedAt = time.Now().UTC()
		}
		m.byStream[streamID] = append(m.byStream[streamID], e)
		m.all = append(m.all, e)
		positions = append(positions, e.GlobalPosition)
	}
	return version, positions, nil
}

func (m *MemStore) ReadStream(ctx context.Context, streamID string, fromVersion int64, max int) ([]events.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []events.Event
	for _, e := range m.byStream[streamID] {
		if e.StreamVersion > fromVersion {
			out = append(out, e)
			if len(out) >= max {
				break
			}
		}
	}
	return out, nil
}

func (m *MemStore) ReadAll(ctx context.Context, fromGlobalPosition int64, max int) ([]events.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []events.Event
	for _, e := range m.all {
		if e.GlobalPosition > fromGlobalPosition {
			out = append(out, e)
			if len(out) >= max {
				break
			}
		}
	}
	return out, nil
}

func (m *MemStore) DeleteStreamEventsBefore(ctx context.Context, streamID string, keepFromVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.byStream[streamID][:0]
	for _, e := range m.byStream[streamID] {
		if e.StreamVersion >= keepFromVersion {
			kept = append(kept, e)
		}
	}
	m.byStream[streamID] = kept
	return nil
}

// Backdate rewrites every event currently in streamID to carry recordedAt,
// simulating an aged-out stream for StreamsOlderThan tests without waiting
// on a real clock.
func (m *MemStore) Backdate(streamID string, recordedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.byStream[streamID] {
		m.byStream[streamID][i].RecordedAt = recordedAt
	}
	for i := range m.all {
		if m.all[i].StreamID == streamID {
			m.all[i].RecordedAt = recordedAt
		}
	}
}

func (m *MemStore) StreamsOlderThan(ctx context.Context, olderThan time.Time, max int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for streamID, evts := range m.byStream {
		var oldest time.Time
		found := false
		for _, e := range evts {
			if e.Type == events.UserCheckpoint {
				continue
			}
			if !found || e.RecordedAt.Before(oldest) {
				oldest = e.RecordedAt
				found = true
			}
		}
		if found && oldest.Before(olderThan) {
			out = append(out, streamID)
			if len(out) >= max {
				break
			}
		}
	}
	return out, nil
}
