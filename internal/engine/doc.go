// Package engine processes ADT events into the bitemporal store.
//
// ProcessEvent is the only write path. Each event runs through
//
//	lock keys → begin tx → guard check → record → dispatch → commit
//
// where dispatch routes the closed set of event kinds to the identity
// resolver, the visit reconciler or the ancillary handler. The whole
// pipeline is one SQLite transaction: either every row closure and insert
// of the event commits, or none does.
//
// Per-key locks serialize events touching the same encounter or patient;
// events for different keys run in parallel on the worker pool started by
// Run or Ingest. A storage conflict re-runs the full transaction from a
// fresh read, which is safe because both the guard and the versioning
// engine turn a repeated application into a no-op.
//
// Processing times come from a Clock that never runs backwards, so stored
// order is commit order.
package engine
