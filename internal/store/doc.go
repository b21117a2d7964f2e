// Package store persists records.
//
// Every backend implements Backend: point lookups by key, lookups by
// attribute value over live (non-soft-deleted) records, writes, hard
// deletes, deferred attribute loading and audit log retrieval.
//
// # Row layout
//
// A record is stored as one row per (type, key):
//   - attrs: JSON of every materialized non-deferred attribute, encoded with
//     model.Encode
//   - deferred: JSON of deferred attributes, read only by LoadDeferred
//   - slug, delete_time: copied out of attrs so uniqueness and liveness can
//     be indexed
//
// Audit log messages queued on an entity are written in the same
// transaction as the record.
//
// # Uniqueness
//
// (type, key) is unique, and so is (type, slug) among live rows. Violations
// surface as model.ErrConflict. Missing rows surface as model.ErrNotFound.
//
// # SQLite configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Cascade log deletion with records
package store
