// Package diff computes structural differences between two record snapshots.
//
// Snapshots are normalised to their JSON value form before comparison, so
// any Go value the host stores as a record attribute (numbers of any width,
// time.Time, nested maps and slices) compares by what would be persisted.
// A value with no JSON form is a malformed snapshot and fails the comparison.
//
// Descriptors use the deep-diff kinds:
//
//	N  added      rhs only
//	E  updated    lhs and rhs
//	D  deleted    lhs only
//	A  array-edit index plus a nested N or D item
//
// Descriptors whose path touches an excluded field name, or a field named
// with the internal marker prefix, are dropped. An empty result means the
// mutation changed nothing worth auditing.
package diff
