package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/admitlog/internal/engine"
	"github.com/roach88/admitlog/internal/feed"
	"github.com/roach88/admitlog/internal/ir"
)

// maxPermutedEvents bounds permutation_invariant scenarios; n events run
// n! times.
const maxPermutedEvents = 7

// Scenario defines a conformance scenario: a feed of ADT events, the
// status each event should get, and assertions over the final state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// SourceSystem is used for event records that name none.
	SourceSystem string `yaml:"source_system,omitempty"`

	// Workers runs the events through the engine worker pool with that
	// many workers instead of one at a time in file order.
	Workers int `yaml:"workers,omitempty"`

	// Records are the raw event records, in the feed record format.
	Records []yaml.Node `yaml:"events"`

	// Statuses optionally lists the expected status of every event.
	Statuses []engine.Status `yaml:"statuses,omitempty"`

	// Assertions validate results and final state.
	Assertions []Assertion `yaml:"assertions"`

	// Events are the decoded records. LoadScenario fills them; tests may
	// set them directly.
	Events []ir.Event `yaml:"-"`
}

// Assertion validates one aspect of a scenario run.
type Assertion struct {
	// Type specifies the assertion type:
	// - "encounter": current state of the encounter Key
	// - "identity": current state of the identity Key resolves to
	// - "result": result of the event at Index
	// - "history": stored rows of Entity Key, or the belief as of AsOf
	// - "replay": rebuilding the applied log reaches the same state
	// - "permutation_invariant": every arrival order of the events ends
	//   in the same encounter states
	Type string `yaml:"type"`

	Key    string `yaml:"key,omitempty"`
	Entity string `yaml:"entity,omitempty"`
	Index  *int   `yaml:"index,omitempty"`

	// AsOf and BelievedAfter select a history point: valid time AsOf, as
	// believed right after the event at index BelievedAfter was applied.
	// BelievedAfter defaults to the end of the run.
	AsOf          *time.Time `yaml:"as_of,omitempty"`
	BelievedAfter *int       `yaml:"believed_after,omitempty"`

	// Expect contains expected field values. Only listed fields are checked.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertEncounter            = "encounter"
	AssertIdentity             = "identity"
	AssertResult               = "result"
	AssertHistory              = "history"
	AssertReplay               = "replay"
	AssertPermutationInvariant = "permutation_invariant"
)

// Fields each assertion type may check.
var expectFields = map[string][]string{
	AssertEncounter: {
		"missing", "status", "admission_time", "discharge_time", "patient_class",
		"disposition", "implied", "owner", "open_location", "locations", "open_locations",
	},
	AssertIdentity: {
		"missing", "canonical", "merged", "encounters", "given_name", "family_name", "conditions",
	},
	AssertResult: {"status", "kind", "reason", "code", "changes"},
	AssertHistory: {"missing", "rows", "live", "believed"},
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(path, data)
}

// ParseScenario parses scenario data; file names it in error messages.
func ParseScenario(file string, data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	events, issues := feed.DecodeNodes(file, scenario.SourceSystem, scenario.Records)
	var blocking []error
	for _, issue := range issues {
		if !issue.Warning {
			blocking = append(blocking, issue)
		}
	}
	if len(blocking) > 0 {
		return nil, fmt.Errorf("invalid scenario events: %w", errors.Join(blocking...))
	}
	scenario.Events = events

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Events) == 0 {
		return fmt.Errorf("events list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 && len(s.Statuses) == 0 {
		return fmt.Errorf("assertions or statuses are required")
	}
	if s.Workers < 0 {
		return fmt.Errorf("workers must be non-negative")
	}

	if len(s.Statuses) > 0 && len(s.Statuses) != len(s.Events) {
		return fmt.Errorf("statuses has %d entries for %d events", len(s.Statuses), len(s.Events))
	}
	for i, st := range s.Statuses {
		switch st {
		case engine.StatusApplied, engine.StatusIgnored, engine.StatusFailed:
		default:
			return fmt.Errorf("statuses[%d]: unknown status %q", i, st)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i], s); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, s *Scenario) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	inRange := func(field string, i *int) error {
		if i != nil && (*i < 0 || *i >= len(s.Events)) {
			return fmt.Errorf("assertions[%d]: %s %d out of range for %d events", index, field, *i, len(s.Events))
		}
		return nil
	}

	switch a.Type {
	case AssertEncounter, AssertIdentity:
		if a.Key == "" {
			return fmt.Errorf("assertions[%d]: key is required for %s", index, a.Type)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for %s", index, a.Type)
		}
	case AssertResult:
		if a.Index == nil {
			return fmt.Errorf("assertions[%d]: index is required for result", index)
		}
		if err := inRange("index", a.Index); err != nil {
			return err
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for result", index)
		}
	case AssertHistory:
		if a.Entity == "" || a.Key == "" {
			return fmt.Errorf("assertions[%d]: entity and key are required for history", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for history", index)
		}
		if a.BelievedAfter != nil && a.AsOf == nil {
			return fmt.Errorf("assertions[%d]: believed_after needs as_of", index)
		}
		if err := inRange("believed_after", a.BelievedAfter); err != nil {
			return err
		}
		if a.AsOf != nil {
			// Point-in-time checks compare payload fields, which vary by entity.
			return nil
		}
	case AssertReplay:
		return nil
	case AssertPermutationInvariant:
		if len(s.Events) > maxPermutedEvents {
			return fmt.Errorf("assertions[%d]: permutation_invariant supports at most %d events", index, maxPermutedEvents)
		}
		if s.Workers > 0 {
			return fmt.Errorf("assertions[%d]: permutation_invariant needs sequential processing", index)
		}
		return nil
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	allowed := expectFields[a.Type]
	for field := range a.Expect {
		if !slices.Contains(allowed, field) {
			return fmt.Errorf("assertions[%d]: unknown %s field %q", index, a.Type, field)
		}
	}
	return nil
}
