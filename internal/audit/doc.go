// Package audit provides the persisted audit-trail types for revtrail.
//
// This package contains type definitions only. Every other internal package
// may import audit; audit imports nothing internal.
//
// Key constraints:
//   - Revisions and changes are append-only, never mutated after the write
//   - Revision numbers are strictly increasing per (model, document_id)
//   - Identifiers are string keys produced by an ident.Strategy; the store
//     decides their on-disk representation through the same strategy
//   - All JSON tags use snake_case
package audit
