package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/admitlog/internal/engine"
	"github.com/roach88/admitlog/internal/ir"
	"github.com/roach88/admitlog/internal/store"
	"github.com/roach88/admitlog/internal/temporal"
	"github.com/roach88/admitlog/internal/testutil"
)

// endOfRun is a stored time after every scenario event.
var endOfRun = Epoch.AddDate(100, 0, 0)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string          // Assertion type for categorization
	Subject  string          // What was checked, e.g. "encounter ENC-1"
	Expected string          // Human-readable expected outcome
	Actual   string          // Human-readable actual outcome
	Results  []engine.Result // Event results for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s", e.Type)
	if e.Subject != "" {
		fmt.Fprintf(&buf, " (%s)", e.Subject)
	}
	buf.WriteString("\n")
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Results) > 0 {
		fmt.Fprintf(&buf, "\nEvent results:\n")
		for _, r := range e.Results {
			fmt.Fprintf(&buf, "  [%d] %s %s: %s%s\n", r.Seq, r.Kind, r.Key, r.Status, reasonSuffix(r))
		}
	}
	return buf.String()
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Ctx      context.Context
	Harness  *Harness
	Scenario *Scenario
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertResult:
			err = assertResult(result, assertion)
		case AssertEncounter, AssertIdentity, AssertHistory, AssertReplay, AssertPermutationInvariant:
			if actx == nil || actx.Harness == nil {
				err = fmt.Errorf("assertion[%d]: %s requires a harness context", i, assertion.Type)
				break
			}
			err = actx.evaluate(result, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

func (actx *AssertionContext) evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case AssertEncounter:
		return actx.assertEncounter(result, a)
	case AssertIdentity:
		return actx.assertIdentity(result, a)
	case AssertHistory:
		return actx.assertHistory(result, a)
	case AssertReplay:
		return actx.assertReplay(result)
	default:
		return actx.assertPermutationInvariant(result)
	}
}

func assertResult(result *Result, a Assertion) error {
	if a.Index == nil || *a.Index < 0 || *a.Index >= len(result.Results) {
		return fmt.Errorf("result: no event at index %v", a.Index)
	}
	r := result.Results[*a.Index]

	changes := make([]string, 0, len(r.Changes))
	for _, c := range r.Changes {
		changes = append(changes, c.EntityType+":"+c.Outcome)
	}
	actual := map[string]any{
		"status":  string(r.Status),
		"kind":    string(r.Kind),
		"reason":  r.Reason,
		"code":    r.Code,
		"changes": changes,
	}
	return check(AssertResult, fmt.Sprintf("events[%d]", *a.Index), a.Expect, actual, result.Results)
}

func (actx *AssertionContext) assertEncounter(result *Result, a Assertion) error {
	views, err := actx.Harness.encounters(actx.Ctx, []string{a.Key})
	if err != nil {
		return err
	}
	v := views[0]

	actual := map[string]any{"missing": v.Missing}
	if !v.Missing {
		open, openCount := "", 0
		for _, l := range v.Locations {
			if l.IsOpen() {
				open = l.Location
				openCount++
			}
		}
		actual["status"] = string(v.Visit.Status)
		actual["admission_time"] = v.Visit.AdmissionTime
		actual["discharge_time"] = v.Visit.DischargeTime
		actual["patient_class"] = v.Visit.PatientClass
		actual["disposition"] = v.Visit.Disposition
		actual["implied"] = v.Visit.Implied
		actual["owner"] = v.Owner
		actual["open_location"] = open
		actual["locations"] = len(v.Locations)
		actual["open_locations"] = openCount
	}
	return check(AssertEncounter, "encounter "+a.Key, a.Expect, actual, result.Results)
}

func (actx *AssertionContext) assertIdentity(result *Result, a Assertion) error {
	views, err := actx.Harness.identities(actx.Ctx, []string{a.Key})
	if err != nil {
		return err
	}
	v := views[0]

	actual := map[string]any{"missing": v.Missing}
	if !v.Missing {
		actual["canonical"] = v.Canonical
		actual["merged"] = v.Merged
		actual["encounters"] = v.Encounters
		actual["conditions"] = len(v.Conditions)
		if v.Demographics != nil {
			actual["given_name"] = v.Demographics.GivenName
			actual["family_name"] = v.Demographics.FamilyName
		}
	}
	return check(AssertIdentity, "identity "+a.Key, a.Expect, actual, result.Results)
}

func (actx *AssertionContext) assertHistory(result *Result, a Assertion) error {
	subject := fmt.Sprintf("history %s:%s", a.Entity, a.Key)
	eng := actx.Harness.engine

	if a.AsOf == nil {
		actual := map[string]any{"missing": false}
		history, err := eng.History(actx.Ctx, a.Entity, a.Key)
		switch {
		case ir.IsNotFound(err):
			actual["missing"] = true
		case err != nil:
			return err
		default:
			live := 0
			for _, r := range history {
				if r.IsLive() {
					live++
				}
			}
			actual["rows"] = len(history)
			actual["live"] = live
			actual["believed"] = len(temporal.Believed(history))
		}
		return check(AssertHistory, subject, a.Expect, actual, result.Results)
	}

	stored := endOfRun
	if a.BelievedAfter != nil {
		r := result.Results[*a.BelievedAfter]
		if r.Status != engine.StatusApplied {
			return fmt.Errorf("%s: events[%d] was %s, not applied", subject, *a.BelievedAfter, r.Status)
		}
		stored = r.ProcessedAt
	}
	subject += " as of " + render(*a.AsOf) + " believed at " + render(stored)

	actual := map[string]any{"missing": false}
	rec, err := eng.HistoryOf(actx.Ctx, a.Entity, a.Key, *a.AsOf, stored)
	switch {
	case ir.IsNotFound(err):
		actual["missing"] = true
	case err != nil:
		return err
	default:
		dec := json.NewDecoder(bytes.NewReader(rec.Value))
		dec.UseNumber()
		var fields map[string]any
		if err := dec.Decode(&fields); err != nil {
			return fmt.Errorf("%s: decode payload: %w", subject, err)
		}
		for k, v := range fields {
			actual[k] = v
		}
	}
	return check(AssertHistory, subject, a.Expect, actual, result.Results)
}

func (actx *AssertionContext) assertReplay(result *Result) error {
	dst, err := store.Open(":memory:")
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	defer dst.Close()

	h := actx.Harness
	report, err := engine.Replay(actx.Ctx, h.store, dst, engine.WithLogger(h.logger))
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	if report.Match() {
		return nil
	}
	return &AssertionError{
		Type:     AssertReplay,
		Expected: "snapshot " + report.SourceHash,
		Actual:   fmt.Sprintf("snapshot %s after %d events (%d failed)", report.ReplayHash, report.Events, report.Failed),
		Results:  report.Failures,
	}
}

func (actx *AssertionContext) assertPermutationInvariant(result *Result) error {
	events := actx.Scenario.Events
	keys, _ := keysOf(events)
	want, err := marshalCanonical(result.Encounters)
	if err != nil {
		return err
	}

	for _, perm := range testutil.Permutations(len(events)) {
		if slices.IsSorted(perm) {
			continue
		}
		got, err := runPermutation(actx.Ctx, testutil.Reorder(events, perm), keys)
		if err != nil {
			return fmt.Errorf("order %v: %w", perm, err)
		}
		if !bytes.Equal(want, got) {
			return &AssertionError{
				Type:     AssertPermutationInvariant,
				Subject:  fmt.Sprintf("order %v", perm),
				Expected: string(want),
				Actual:   string(got),
			}
		}
	}
	return nil
}

// runPermutation processes events in a fresh harness and returns the
// canonical encounter states.
func runPermutation(ctx context.Context, events []ir.Event, keys []string) ([]byte, error) {
	h, err := newHarness(0)
	if err != nil {
		return nil, err
	}
	defer h.close()

	if err := h.process(ctx, events); err != nil {
		return nil, err
	}
	views, err := h.encounters(ctx, keys)
	if err != nil {
		return nil, err
	}
	return marshalCanonical(views)
}

// check compares the expected fields against actual values.
func check(kind, subject string, expect, actual map[string]any, results []engine.Result) error {
	fields := make([]string, 0, len(expect))
	for k := range expect {
		fields = append(fields, k)
	}
	slices.Sort(fields)

	var want, got []string
	for _, f := range fields {
		e, a := render(expect[f]), render(actual[f])
		if e != a {
			want = append(want, f+"="+e)
			got = append(got, f+"="+a)
		}
	}
	if len(want) == 0 {
		return nil
	}
	return &AssertionError{
		Type:     kind,
		Subject:  subject,
		Expected: strings.Join(want, ", "),
		Actual:   strings.Join(got, ", "),
		Results:  results,
	}
}

// render formats a YAML or state value for comparison. Times render in
// UTC RFC 3339 and the zero time renders empty.
func render(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case time.Time:
		if val.IsZero() {
			return ""
		}
		return val.UTC().Format(time.RFC3339Nano)
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case json.Number:
		return val.String()
	case []string:
		return "[" + strings.Join(val, ", ") + "]"
	case []any:
		parts := make([]string, len(val))
		for i, elem := range val {
			parts[i] = render(elem)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprint(val)
	}
}
