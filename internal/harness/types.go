package harness

import (
	"github.com/roach88/admitlog/internal/engine"
	"github.com/roach88/admitlog/internal/ir"
)

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	Pass bool `json:"pass"`

	// Results holds the engine result of every event, in event order.
	Results []engine.Result `json:"results"`

	// Encounters and Identities capture the final state of every key the
	// events name, sorted by key.
	Encounters []EncounterView `json:"encounters"`
	Identities []IdentityView  `json:"identities"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// EncounterView is the final state of one encounter.
type EncounterView struct {
	Key       string            `json:"key"`
	Missing   bool              `json:"missing,omitempty"`
	Owner     string            `json:"owner,omitempty"`
	Visit     *ir.HospitalVisit `json:"visit,omitempty"`
	Locations []LocationView    `json:"locations,omitempty"`
}

// LocationView is one location visit of an encounter.
type LocationView struct {
	Key string `json:"key"`
	ir.LocationVisit
}

// IdentityView is the final state of one patient key.
type IdentityView struct {
	Key          string           `json:"key"`
	Missing      bool             `json:"missing,omitempty"`
	Canonical    string           `json:"canonical,omitempty"`
	Merged       []string         `json:"merged,omitempty"`
	Encounters   []string         `json:"encounters,omitempty"`
	Demographics *ir.Demographics `json:"demographics,omitempty"`
	Conditions   []ir.Condition   `json:"conditions,omitempty"`
}

// ResultView is the part of an engine result kept in golden snapshots.
type ResultView struct {
	Seq     int             `json:"seq"`
	Kind    string          `json:"kind"`
	Key     string          `json:"key,omitempty"`
	Status  engine.Status   `json:"status"`
	Reason  string          `json:"reason,omitempty"`
	Code    string          `json:"code,omitempty"`
	Changes []engine.Change `json:"changes,omitempty"`
}
