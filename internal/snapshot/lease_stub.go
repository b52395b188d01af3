// Balados Sync - Podcast Subscription and Playback Sync Backbone
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/podcloud/balados-sync

//go:build !wal

package snapshot

import (
	"context"
	"sync"
	"time"
)

// LeaseStore is an in-process stand-in used when the binary is built
// without -tags wal (mirrors internal/wal's wal_stub.go pattern: no
// Badger dependency, single-process-only guarantees). A single-process
// deployment never needs cross-process mutual exclusion, so a plain
// mutex-guarded map gives the same Acquire/Release contract without
// pulling in BadgerDB.
type LeaseStore struct {
	mu      sync.Mutex
	leases  map[string]leaseRecord
}

type leaseRecord struct {
	holder string
	expiry time.Time
}

// OpenLeaseStore returns an in-memory LeaseStore; path is accepted for
// interface parity with the wal-tagged implementation and ignored.
func OpenLeaseStore(path string) (*LeaseStore, error) {
	return &LeaseStore{leases: make(map[string]leaseRecord)}, nil
}

func (s *LeaseStore) Acquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if rec, ok := s.leases[key]; ok && rec.holder != holder && now.Before(rec.expiry) {
		return false, nil
	}
	s.leases[key] = leaseRecord{holder: holder, expiry: now.Add(ttl)}
	return true, nil
}

func (s *LeaseStore) Release(ctx context.Context, key, holder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.leases[key]; ok && rec.holder == holder {
		delete(s.leases, key)
	}
	return nil
}

func (s *LeaseStore) Close() error { return nil }
