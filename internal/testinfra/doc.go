// Balados Sync - Podcast Subscription and Playback Sync Backbone
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/podcloud/balados-sync

// Package testinfra provides test infrastructure for integration testing with containers.
//
// This package uses testcontainers-go to manage Docker containers for integration tests,
// providing realistic testing environments that closely match production.
//
// # Postgres Container
//
// internal/eventstore's integration tests use these helpers together with
// testcontainers-go/modules/postgres to run the event store's migrations
// and Append/Read methods against a real Postgres instance:
//
//	func TestPostgres_AppendAndReadStream(t *testing.T) {
//	    testinfra.SkipIfNoDocker(t)
//	    ctx := context.Background()
//	    container, err := postgres.Run(ctx, "postgres:16-alpine",
//	        testcontainers.WithLogger(testinfra.NewContainerLogger(t)))
//	    if err != nil {
//	        t.Fatal(err)
//	    }
//	    defer testinfra.CleanupContainer(t, ctx, container)
//
//	    // run migrations, open a pool, exercise eventstore.Postgres
//	}
//
// # Benefits Over Mocks
//
// Using real containers provides several advantages:
//   - Tests validate actual API contracts
//   - No mock drift (mocks getting out of sync with real API)
//   - Tests run against production-equivalent services
//   - Reduces maintenance burden (one seed database vs many mock functions)
//
// # CI Considerations
//
// These tests require Docker and network access. In CI:
//   - Self-hosted runners have Docker pre-installed
//   - Container images are cached between runs
//   - Tests are skipped gracefully if Docker is unavailable
//
// # Network Requirements
//
// First run may need to download container images. Subsequent runs use cached images.
package testinfra
