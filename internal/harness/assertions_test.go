package harness

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/admitlog/internal/engine"
	"github.com/roach88/admitlog/internal/ir"
)

func TestRender(t *testing.T) {
	at := time.Date(2024, 3, 1, 9, 10, 0, 0, time.FixedZone("CET", 3600))

	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, ""},
		{"string", "ward-A", "ward-A"},
		{"time in UTC", at, "2024-03-01T08:10:00Z"},
		{"zero time", time.Time{}, ""},
		{"bool", true, "true"},
		{"int", 3, "3"},
		{"int64", int64(1709280000000000), "1709280000000000"},
		{"json number", json.Number("42"), "42"},
		{"string slice", []string{"MRN-A", "MRN-B"}, "[MRN-A, MRN-B]"},
		{"nil string slice", []string(nil), "[]"},
		{"yaml list", []any{"live_pointer:created", 2}, "[live_pointer:created, 2]"},
		{"empty yaml list", []any{}, "[]"},
		{"other", ir.VisitStatus("active"), "active"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, render(tt.in))
		})
	}
}

func TestCheck(t *testing.T) {
	actual := map[string]any{
		"status":    "discharged",
		"locations": 2,
		"merged":    []string{},
	}

	t.Run("match", func(t *testing.T) {
		expect := map[string]any{"status": "discharged", "locations": 2, "merged": []any{}}
		assert.NoError(t, check(AssertEncounter, "encounter ENC-1", expect, actual, nil))
	})

	t.Run("mismatch lists differing fields in order", func(t *testing.T) {
		expect := map[string]any{"status": "active", "locations": 3, "merged": []any{}}
		err := check(AssertEncounter, "encounter ENC-1", expect, actual, nil)

		var ae *AssertionError
		require.ErrorAs(t, err, &ae)
		assert.Equal(t, "locations=3, status=active", ae.Expected)
		assert.Equal(t, "locations=2, status=discharged", ae.Actual)
	})

	t.Run("absent actual field renders empty", func(t *testing.T) {
		expect := map[string]any{"given_name": "Ada"}
		err := check(AssertIdentity, "identity MRN-1", expect, map[string]any{}, nil)

		var ae *AssertionError
		require.ErrorAs(t, err, &ae)
		assert.Equal(t, "given_name=", ae.Actual)
	})
}

func TestAssertionError_Error(t *testing.T) {
	err := &AssertionError{
		Type:     AssertResult,
		Subject:  "events[1]",
		Expected: "status=applied",
		Actual:   "status=ignored",
		Results: []engine.Result{
			{Seq: 0, Kind: ir.KindAdmit, Key: "ENC-1", Status: engine.StatusApplied},
			{Seq: 1, Kind: ir.KindAdmit, Key: "ENC-1", Status: engine.StatusIgnored, Reason: "event already applied"},
		},
	}

	want := "Assertion failed: result (events[1])\n" +
		"  Expected: status=applied\n" +
		"  Actual: status=ignored\n" +
		"\nEvent results:\n" +
		"  [0] admit ENC-1: applied\n" +
		"  [1] admit ENC-1: ignored (event already applied)\n"
	assert.Equal(t, want, err.Error())
}

func TestEvaluateAssertions_Result(t *testing.T) {
	result := NewResult()
	result.Results = []engine.Result{{
		Kind:   ir.KindAdmit,
		Status: engine.StatusApplied,
		Changes: []engine.Change{
			{EntityType: "live_pointer", EntityKey: "MRN-1", Outcome: "created"},
			{EntityType: "visit", EntityKey: "ENC-1", Outcome: "created"},
		},
	}}
	zero := 0

	msgs := EvaluateAssertions(result, []Assertion{{
		Type:   AssertResult,
		Index:  &zero,
		Expect: map[string]any{"status": "applied", "kind": "admit", "changes": []any{"live_pointer:created", "visit:created"}},
	}}, nil)
	assert.Empty(t, msgs)

	msgs = EvaluateAssertions(result, []Assertion{{
		Type:   AssertResult,
		Index:  &zero,
		Expect: map[string]any{"reason": "event already applied"},
	}}, nil)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "Assertion failed: result (events[0])")
}

func TestEvaluateAssertions_NeedsHarness(t *testing.T) {
	msgs := EvaluateAssertions(NewResult(), []Assertion{
		{Type: AssertEncounter, Key: "ENC-1"},
		{Type: AssertReplay},
	}, nil)

	assert.Equal(t, []string{
		"assertion[0]: encounter requires a harness context",
		"assertion[1]: replay requires a harness context",
	}, msgs)
}

func TestEvaluateAssertions_UnknownType(t *testing.T) {
	msgs := EvaluateAssertions(NewResult(), []Assertion{{Type: "census"}}, nil)
	assert.Equal(t, []string{`assertion[0]: unknown assertion type "census"`}, msgs)
}

func TestEvaluateAssertions_ResultIndexOutOfRange(t *testing.T) {
	five := 5
	msgs := EvaluateAssertions(NewResult(), []Assertion{{Type: AssertResult, Index: &five}}, nil)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "result: no event at index")
}

func TestAssertHistory_BelievedAfterMustBeApplied(t *testing.T) {
	s := loadTestScenario(t, "simple_stay")
	asOf := time.Date(2024, 3, 1, 8, 15, 0, 0, time.UTC)
	resent := 3
	s.Statuses = nil
	s.Assertions = []Assertion{{
		Type:          AssertHistory,
		Entity:        ir.EntityVisit,
		Key:           "ENC-1",
		AsOf:          &asOf,
		BelievedAfter: &resent,
		Expect:        map[string]any{"status": "active"},
	}}

	result, err := Run(s)
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "events[3] was ignored, not applied")
}
