package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/admitlog/internal/engine"
	"github.com/roach88/admitlog/internal/ir"
	"github.com/roach88/admitlog/internal/store"
	"github.com/roach88/admitlog/internal/testutil"
	"github.com/roach88/admitlog/internal/visit"
)

// Epoch is the processing time of the first scenario event. In sequential
// runs the event at index n is processed at Epoch plus n minutes.
var Epoch = time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

const tick = time.Minute

// Harness is one scenario run: a fresh store, an engine on a
// deterministic clock, and what the events produced.
type Harness struct {
	store   *store.Store
	engine  *engine.Engine
	clock   *testutil.Clock
	logger  *slog.Logger
	workers int

	results []engine.Result
}

// newHarness opens a fresh in-memory store and an engine on it.
func newHarness(workers int) (*Harness, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}

	// Pooled runs cannot pin each event to a minute, so the clock ticks
	// on every read instead.
	step := time.Duration(0)
	if workers > 0 {
		step = tick
	}
	clock := testutil.NewClock(Epoch, step)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithClock(engine.NewClock(clock.Now)),
		engine.WithIDGenerator(engine.NewSequenceGenerator("evt")),
	}
	if workers > 0 {
		opts = append(opts, engine.WithWorkers(workers))
	}

	return &Harness{
		store:   st,
		engine:  engine.New(st, opts...),
		clock:   clock,
		logger:  logger,
		workers: workers,
	}, nil
}

func (h *Harness) close() {
	h.store.Close()
}

// process runs events through the engine and keeps their results.
func (h *Harness) process(ctx context.Context, events []ir.Event) error {
	if h.workers > 0 {
		results, err := h.engine.Ingest(ctx, events)
		if err != nil {
			return fmt.Errorf("ingest: %w", err)
		}
		h.results = results
		return nil
	}

	h.results = make([]engine.Result, 0, len(events))
	for i, ev := range events {
		h.clock.Set(Epoch.Add(time.Duration(i) * tick))
		res := h.engine.ProcessEvent(ctx, ev)
		res.Seq = i
		h.results = append(h.results, res)
	}
	return nil
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Deterministic helpers ensure reproducible results.
//
// Execution flow:
// 1. Create fresh in-memory database and engine
// 2. Process the events, one at a time or through the worker pool
// 3. Check expected statuses and store invariants
// 4. Capture the final state of every encounter and patient named
// 5. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	h, err := newHarness(scenario.Workers)
	if err != nil {
		return nil, err
	}
	defer h.close()

	if err := h.process(ctx, scenario.Events); err != nil {
		return nil, fmt.Errorf("failed to process events: %w", err)
	}

	result := NewResult()
	result.Results = h.results

	for i, want := range scenario.Statuses {
		if got := h.results[i]; got.Status != want {
			result.AddError(fmt.Sprintf("events[%d] (%s): expected status %s, got %s%s",
				i, got.Kind, want, got.Status, reasonSuffix(got)))
		}
	}

	violations, err := h.checkInvariants(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check invariants: %w", err)
	}
	for _, v := range violations {
		result.AddError(v)
	}

	encounters, patients := keysOf(scenario.Events)
	if result.Encounters, err = h.encounters(ctx, encounters); err != nil {
		return nil, err
	}
	if result.Identities, err = h.identities(ctx, patients); err != nil {
		return nil, err
	}

	actx := &AssertionContext{
		Ctx:      ctx,
		Harness:  h,
		Scenario: scenario,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	h.logger.Info("scenario finished", "scenario", scenario.Name, "pass", result.Pass)
	return result, nil
}

func reasonSuffix(r engine.Result) string {
	if r.Reason == "" {
		return ""
	}
	return " (" + r.Reason + ")"
}

// checkInvariants reports entities with more than one live row and
// encounters with more than one open location visit.
func (h *Harness) checkInvariants(ctx context.Context) ([]string, error) {
	var violations []string
	err := h.store.View(ctx, func(tx *store.Tx) error {
		entities, err := tx.Entities(ctx)
		if err != nil {
			return err
		}
		for _, e := range entities {
			n, err := tx.CountLive(ctx, e.Type, e.Key)
			if err != nil {
				return err
			}
			if n > 1 {
				violations = append(violations, fmt.Sprintf("invariant: %s has %d live rows", e, n))
			}
			if e.Type != ir.EntityVisit {
				continue
			}

			state, err := visit.Load(ctx, tx, e.Key)
			if ir.IsNotFound(err) {
				continue
			}
			if err != nil {
				return err
			}
			open := 0
			for _, l := range state.Locations {
				if l.IsOpen() {
					open++
				}
			}
			if open > 1 {
				violations = append(violations, fmt.Sprintf("invariant: encounter %s has %d open location visits", e.Key, open))
			}
		}
		return nil
	})
	return violations, err
}

// keysOf returns the sorted encounter and patient keys named by events.
func keysOf(events []ir.Event) (encounters, patients []string) {
	for _, ev := range events {
		h := ev.Meta()
		if h.EncounterKey != "" {
			encounters = append(encounters, h.EncounterKey)
		}
		if h.PatientKey != "" {
			patients = append(patients, h.PatientKey)
		}
		switch ev := ev.(type) {
		case ir.MergePatient:
			if ev.RetiredKey != "" {
				patients = append(patients, ev.RetiredKey)
			}
		case ir.MoveVisitInformation:
			if ev.PreviousPatientKey != "" {
				patients = append(patients, ev.PreviousPatientKey)
			}
		case ir.ChangePatientIdentifiers:
			if ev.PreviousPatientKey != "" {
				patients = append(patients, ev.PreviousPatientKey)
			}
		}
	}
	slices.Sort(encounters)
	slices.Sort(patients)
	return slices.Compact(encounters), slices.Compact(patients)
}

func (h *Harness) encounters(ctx context.Context, keys []string) ([]EncounterView, error) {
	views := make([]EncounterView, 0, len(keys))
	for _, key := range keys {
		state, err := h.engine.CurrentEncounterState(ctx, key)
		if ir.IsNotFound(err) {
			views = append(views, EncounterView{Key: key, Missing: true})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("encounter %s: %w", key, err)
		}
		v := EncounterView{Key: key, Owner: state.Owner, Visit: &state.Visit}
		for _, l := range state.Locations {
			v.Locations = append(v.Locations, LocationView{Key: l.Key, LocationVisit: l.LocationVisit})
		}
		views = append(views, v)
	}
	return views, nil
}

func (h *Harness) identities(ctx context.Context, keys []string) ([]IdentityView, error) {
	views := make([]IdentityView, 0, len(keys))
	for _, key := range keys {
		state, err := h.engine.CurrentIdentity(ctx, key)
		if ir.IsNotFound(err) {
			views = append(views, IdentityView{Key: key, Missing: true})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("identity %s: %w", key, err)
		}
		views = append(views, IdentityView{
			Key:          key,
			Canonical:    state.Canonical,
			Merged:       state.Merged,
			Encounters:   state.Encounters,
			Demographics: state.Demographics,
			Conditions:   state.Conditions,
		})
	}
	return views, nil
}
