// Package store provides SQLite-backed durable storage for admitlog.
//
// The store holds:
//   - Temporal rows: bitemporal versions of visits, location visits, live
//     pointers, demographics and conditions
//   - Identities: every external patient key seen
//   - Merge log: append-only record of identity merges
//   - Owners: current owning identity of encounters and ancillary facts
//   - Applied events: fingerprints and payloads of durably applied events
//
// # Invariants Enforced by the Schema
//
//   - A partial UNIQUE index allows one live row (stored_until IS NULL)
//     per (entity_type, entity_key)
//   - Triggers reject updates to audit rows and any delete
//   - merge_log is append-only
//   - UNIQUE(scope_key, fingerprint) rejects a second application of the
//     same event
//
// # Transactions
//
// Every mutation happens inside Update, one transaction per event. Lock
// contention and unique violations surface as ErrConflict so callers can
// retry with a fresh read.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Times are stored as INTEGER unix microseconds. Payloads are JSON.
package store
