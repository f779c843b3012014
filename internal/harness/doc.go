// Package harness runs audit-trail scenarios.
//
// A scenario is a YAML file listing record mutations (create, update,
// delete, bulk_delete) and assertions over the resulting audit trail.
// Each scenario runs against fresh in-memory stores with a fixed clock,
// sequential identifiers and synchronous recording, so the produced trace
// is byte-for-byte reproducible and can be compared to a golden file.
//
// Records are addressed by ref, a scenario-local name bound when the record
// is created.
package harness
