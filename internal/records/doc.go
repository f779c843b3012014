// Package records is a SQLite record store that drives the revision hooks.
//
// Each record is a JSON attribute map keyed by (model, id). Every mutation
// runs under the tracker's per-record lock, calls the Before* hook, writes
// the row conditionally on the prior revision counter and then calls the
// After* hook with the committed attributes.
package records
