package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/admitlog/internal/ir"
)

// Snapshot is the golden record of a scenario run. All fields use
// canonical JSON serialization for deterministic comparison.
type Snapshot struct {
	Scenario   string          `json:"scenario"`
	Results    []ResultView    `json:"results"`
	Encounters []EncounterView `json:"encounters"`
	Identities []IdentityView  `json:"identities"`
}

// NewSnapshot builds the golden record of result. Pooled runs may
// interleave events of one encounter differently, so their changes are
// left out.
func NewSnapshot(scenario *Scenario, result *Result) Snapshot {
	snap := Snapshot{
		Scenario:   scenario.Name,
		Results:    make([]ResultView, 0, len(result.Results)),
		Encounters: result.Encounters,
		Identities: result.Identities,
	}
	for _, r := range result.Results {
		v := ResultView{
			Seq:    r.Seq,
			Kind:   string(r.Kind),
			Key:    r.Key,
			Status: r.Status,
			Reason: r.Reason,
			Code:   r.Code,
		}
		if scenario.Workers == 0 {
			v.Changes = r.Changes
		}
		snap.Results = append(snap.Results, v)
	}
	return snap
}

// Golden returns the canonical JSON golden content for a run.
func Golden(scenario *Scenario, result *Result) ([]byte, error) {
	return marshalCanonical(NewSnapshot(scenario, result))
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can check assertions too.
// Test failure (via goldie) occurs if the snapshot doesn't match.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario, result); err != nil {
		return nil, err
	}
	return result, nil
}

// GoldenDir is where RunWithGolden and AssertGolden keep golden files.
const GoldenDir = "testdata/golden"

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, scenario *Scenario, result *Result) error {
	t.Helper()
	return assertGoldenIn(t, GoldenDir, scenario, result)
}

func assertGoldenIn(t *testing.T, dir string, scenario *Scenario, result *Result) error {
	t.Helper()

	data, err := Golden(scenario, result)
	if err != nil {
		return err
	}

	g := newGoldie(t, dir)
	g.Assert(t, scenario.Name, data)
	return nil
}

func newGoldie(t *testing.T, dir string) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir(dir),
		goldie.WithNameSuffix(".golden"),
	)
}

// marshalCanonical serializes v through its JSON form as canonical JSON.
// Numbers must be integers and nulls are dropped.
func marshalCanonical(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	lifted, err := lift(generic)
	if err != nil {
		return nil, err
	}
	return ir.MarshalCanonical(lifted)
}

func lift(v any) (any, error) {
	switch val := v.(type) {
	case json.Number:
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("non-integer number %s", val)
		}
		return n, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			if elem == nil {
				continue
			}
			lv, err := lift(elem)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = lv
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			if elem == nil {
				return nil, fmt.Errorf("[%d]: null element", i)
			}
			lv, err := lift(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = lv
		}
		return out, nil
	default:
		return val, nil
	}
}
