// Package snapshot implements the periodic per-user checkpoint /
// compaction worker described in spec §4.5: for every user whose oldest
// non-checkpoint event predates CHECKPOINT_AGE, it dispatches a Snapshot
// command (which emits a UserCheckpoint event summarizing full current
// state) and, once the Append recording that checkpoint has returned,
// asks the EventStore to physically delete the
// raw events it now supersedes. It also emits PopularityRecalculated
// once per cycle for feeds whose popularity counters changed (spec §9).
//
// A horizontally-scaled fleet of workers must not compact the same user
// twice concurrently, so each worker claims a durable lease (lease.go)
// before touching a candidate stream, repurposing the badger-backed
// lease mechanics from the reference's WAL-before-NATS-publish
// durability log (internal/wal/wal.go's LeaseExpiry/LeaseHolder fields)
// into a compaction lease store (SPEC_FULL.md DOMAIN STACK). A crashed
// worker's lease expires naturally and another worker picks the user up.
// Built without the wal tag, lease_stub.go keeps leases in process memory
// instead, so they exclude concurrent compaction only within one process.
package snapshot
