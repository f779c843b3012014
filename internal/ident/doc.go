// Package ident generates and encodes the primary keys of revisions and
// changes.
//
// Two policies exist, selected once at setup and used for both persisted
// types:
//
//   - compact: UUIDv7 rendered as 32 lowercase hex characters and stored as a
//     16-byte BLOB. The timestamp prefix keeps inserts index-local.
//   - uuid: random UUIDv4 in canonical 36-character form, stored as TEXT.
//
// The same policy decides how document_id and revision_id foreign keys are
// stored, so a compact store expects hex document identifiers.
package ident
