// Package recorder persists a computed diff as one revision plus its changes.
//
// Ordering: the revision write happens-before every change write of that
// revision. Change writes then fan out concurrently, each followed by the
// change → revision link. No transaction spans the set.
//
// Failure handling is "log and continue". A failed revision write abandons
// its changes; a failed change write is logged with enough context for
// manual reconciliation and never affects sibling changes. Nothing is
// retried, and nothing propagates to the mutation that triggered recording,
// which has already committed. A revision with fewer changes than computed
// descriptors is a valid, partial history.
package recorder
