// Balados Sync - Podcast Subscription and Playback Sync Backbone
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/podcloud/balados-sync

//go:build wal

package snapshot

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"
	json "github.com/goccy/go-json"

	"github.com/podcloud/balados-sync/internal/logging"
)

// leaseRecord is the Badger value stored per lease key: who holds it and
// until when. Ported from internal/wal.Entry's LeaseExpiry/LeaseHolder
// pair, narrowed to just the lease fields this worker needs.
type leaseRecord struct {
	Holder string    `json:"holder"`
	Expiry time.Time `json:"expiry"`
}

// LeaseStore is a durable, crash-safe mutual-exclusion lease keyed by
// user_id (or a fixed key for the popularity-recalculation cycle lease),
// backed by BadgerDB exactly the way internal/wal.BadgerWAL persists its
// per-entry leases.
type LeaseStore struct {
	db *badger.DB
}

// OpenLeaseStore opens (or creates) the Badger database at path.
func OpenLeaseStore(path string) (*LeaseStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	logging.Info().Str("path", path).Msg("snapshot: lease store opened")
	return &LeaseStore{db: db}, nil
}

// Acquire claims key for holder until now+ttl, succeeding if no lease is
// currently held or the existing lease has expired (spec §4.5 "a crashed
// worker's lease naturally expires and another worker can pick the user
// up", via internal/wal's LeaseExpiry recovery rule).
func (s *LeaseStore) Acquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	now := time.Now()
	var acquired bool
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		if err == nil {
			var rec leaseRecord
			ve := item.Value(func(v []byte) error { return json.Unmarshal(v, &rec) })
			if ve != nil {
				return ve
			}
			if rec.Holder != holder && now.Before(rec.Expiry) {
				acquired = false
				return nil
			}
		}
		rec := leaseRecord{Holder: holder, Expiry: now.Add(ttl)}
		raw, mErr := json.Marshal(rec)
		if mErr != nil {
			return mErr
		}
		if sErr := txn.SetEntry(badger.NewEntry([]byte(key), raw).WithTTL(ttl * 2)); sErr != nil {
			return sErr
		}
		acquired = true
		return nil
	})
	return acquired, err
}

// Release drops key's lease if holder still owns it. Best-effort: a
// missing or already-expired lease is not an error, since the next
// Acquire would have succeeded anyway.
func (s *LeaseStore) Release(ctx context.Context, key, holder string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		var rec leaseRecord
		if vErr := item.Value(func(v []byte) error { return json.Unmarshal(v, &rec) }); vErr != nil {
			return vErr
		}
		if rec.Holder != holder {
			return nil
		}
		return txn.Delete([]byte(key))
	})
}

// Close releases the underlying BadgerDB handle.
func (s *LeaseStore) Close() error {
	return s.db.Close()
}
