// Package harness runs conformance scenarios against the engine.
//
// A scenario is a feed of ADT events plus what should come of them. Every
// scenario runs through the real engine on a fresh in-memory store, so a
// passing scenario shows what the engine actually believes after the
// events, not what the scenario says it should.
//
// # Scenario Format
//
// Scenarios are defined in YAML files. Events use the feed record format
// (see package feed):
//
//	name: admit_transfer_discharge
//	description: "A simple stay closes every location visit"
//	source_system: PAS
//	events:
//	  - kind: admit
//	    patient_key: MRN-1
//	    encounter_key: ENC-1
//	    event_time: 2024-03-01T08:10:00Z
//	    location: ward-A
//	  - kind: discharge
//	    patient_key: MRN-1
//	    encounter_key: ENC-1
//	    event_time: 2024-03-01T08:30:00Z
//	statuses: [applied, applied]
//	assertions:
//	  - type: encounter
//	    key: ENC-1
//	    expect: { status: discharged, open_locations: 0 }
//	  - type: replay
//
// # Assertion Types
//
//   - encounter: current visit of an encounter (status, open_location, locations, ...)
//   - identity: current identity of a patient key (canonical, merged, encounters, ...)
//   - result: result of one event (status, reason, code, changes)
//   - history: stored rows of an entity, or the belief as of a valid time
//   - replay: rebuilding the applied-event log reaches the same snapshot
//   - permutation_invariant: every arrival order ends in the same encounter states
//
// Every run also checks that no entity has more than one live row and no
// encounter has more than one open location visit.
//
// # Deterministic Testing
//
// The harness uses:
//   - Sequential event ids (evt-1, evt-2, ...)
//   - A processing clock pinned to Epoch plus one minute per event index
//   - In-memory SQLite database (isolated per run)
//
// This ensures identical snapshots across runs for golden file comparison.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/simple_stay.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, msg := range result.Errors {
//	    log.Println(msg)
//	}
package harness
