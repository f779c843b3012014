// Package revision implements the revision state machine that decides
// whether a mutation is audit-worthy.
//
// A host record store calls the Before* hook synchronously before it
// persists a mutation. The hook resets the revision counter to its prior
// value, computes the filtered diff and bumps the counter when the
// mutation is audited. The returned Pending value is threaded by the host
// into the matching After* hook once the mutation has committed, which
// hands the diff to the recorder without blocking the caller.
//
// Mutations to the same record must be serialised by the host. Tracker.Lock
// provides a per-record lock; the host must also write the counter
// conditionally on its prior value (see Pending.Prior).
package revision
