// Package store provides SQLite-backed durable storage for revtrail audit trails.
//
// The store holds two append-only tables:
//   - Revisions: one immutable snapshot per audit-worthy mutation
//   - Revision changes: field-level differences, linked to their revision
//
// Table names and key column types are configurable. Keys are produced and
// encoded by an ident.Strategy, so the compact policy stores BLOB keys and
// the uuid policy stores TEXT keys.
//
// # Invariants
//
//   - UNIQUE(model, document_id, revision): a revision number is written at
//     most once per record, so a racing duplicate write fails loudly
//   - Rows are never updated except for the change → revision link
//   - All list queries order deterministically: revision ASC, then
//     path ASC, id ASC COLLATE BINARY
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
