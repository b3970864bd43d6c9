// Package store provides SQLite-backed durable storage for declarations and
// entity ledgers.
//
// Tables:
//   - declarations: one row per (owner, name), keyed by global position
//   - entities: every opened entity id
//   - records: ledger records, keyed by (entity_id, seq)
//
// The store never recomputes digests. It persists exactly what the ledger
// produced; integrity is checked by ledger.VerifyRecords when the history is
// read back.
//
// # Ordering
//
// All list queries are ordered (position, seq, or id COLLATE BINARY) so
// repeated loads yield identical snapshots.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
