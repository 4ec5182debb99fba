// Package temporal implements bitemporal versioning of facts.
//
// Every versioned entity is a sequence of Records. A record carries two
// intervals:
//   - valid time [ValidFrom, ValidUntil): when the fact held in the real world
//   - stored time [StoredFrom, StoredUntil): when the system believed it
//
// # Row Rules
//
//   - At most one record per entity has StoredUntil == nil (the live row)
//   - A record with StoredUntil set is an audit row and is never changed
//   - Closing the live row is the only transition a stored row goes through
//   - Closing with ValidUntil == ValidFrom retracts the row entirely
//
// # As-Of Reads
//
// A record known at processing time S asserts [ValidFrom, ValidUntil) when
// it was closed at or before S and [ValidFrom, ∞) otherwise. Among the
// records asserting an interval that contains event time T, the most
// recently stored one (StoredFrom, then ID) wins. Tombstone records assert
// that the entity did not exist.
//
// # Writes
//
// Apply and Sync never touch storage. They compute a Plan: the live row to
// close and the rows to insert. The store package applies plans inside a
// transaction; Plan.ApplyTo does the same in memory.
package temporal
