// Package visit reconciles the movements of one encounter into its root
// visit and location visits.
//
// Reconciliation is replay based. The applied movements of an encounter
// are ordered by event time, then recorded time, and folded through the
// encounter state machine into the desired valid-time timeline of every
// visit entity. The timelines are then synced through the versioning
// engine. Because the fold always sees the ordered log, the persisted
// belief after any arrival order equals the belief after in-order
// arrival.
//
// States of a location visit are open and closed; states of an encounter
// are active and discharged. A cancel restores the encounter to the state
// before the movement it cancels, which must be the latest movement still
// in effect.
package visit
