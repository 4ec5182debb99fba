package visit

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/admitlog/internal/guard"
	"github.com/roach88/admitlog/internal/ir"
	"github.com/roach88/admitlog/internal/store"
	"github.com/roach88/admitlog/internal/temporal"
)

// Change is the versioning outcome of one visit entity.
type Change struct {
	Entity  store.Entity
	Outcome temporal.Outcome
}

// Result is the outcome of reconciling an encounter.
type Result struct {
	Encounter string
	Changes   []Change
}

// Changed reports whether any entity changed.
func (r Result) Changed() bool {
	for _, c := range r.Changes {
		if c.Outcome != temporal.NoOp {
			return true
		}
	}
	return false
}

// Reconciler syncs the visit entities of encounters with their applied
// movement logs.
type Reconciler struct {
	logger *slog.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// New creates a Reconciler.
func New(opts ...Option) *Reconciler {
	r := &Reconciler{logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile replays the applied movements of encounter, which must
// already include the event with fingerprint current, and syncs the root
// visit and every location visit at processing time at.
//
// Location visits persisted earlier but absent from the replayed state
// are synced to an empty timeline.
func (r *Reconciler) Reconcile(ctx context.Context, tx *store.Tx, encounter, current string, at time.Time) (Result, error) {
	applied, err := tx.AppliedEvents(ctx, guard.EncounterScope(encounter))
	if err != nil {
		return Result{}, err
	}
	entries, err := Order(encounter, applied)
	if err != nil {
		return Result{}, err
	}
	desired, err := Fold(encounter, entries, current)
	if err != nil {
		return Result{}, err
	}

	result := Result{Encounter: encounter}

	root := store.Entity{Type: ir.EntityVisit, Key: encounter, Scope: encounter}
	outcome, err := syncEntity(ctx, tx, root, desired.Root, at)
	if err != nil {
		return Result{}, err
	}
	result.Changes = append(result.Changes, Change{Entity: root, Outcome: outcome})

	persisted, err := tx.EntityKeys(ctx, ir.EntityLocationVisit, encounter)
	if err != nil {
		return Result{}, err
	}
	keys := persisted
	for k := range desired.Locations {
		if !slices.Contains(persisted, k) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	for _, k := range keys {
		entity := store.Entity{Type: ir.EntityLocationVisit, Key: k, Scope: encounter}
		outcome, err := syncEntity(ctx, tx, entity, desired.Locations[k], at)
		if err != nil {
			return Result{}, err
		}
		result.Changes = append(result.Changes, Change{Entity: entity, Outcome: outcome})
	}

	for _, c := range result.Changes {
		if c.Outcome == temporal.NoOp {
			continue
		}
		r.logger.Debug("versioned visit entity",
			"encounter_key", encounter,
			"entity", c.Entity.String(),
			"outcome", string(c.Outcome),
		)
	}
	return result, nil
}

func syncEntity[E temporal.Fact[E]](ctx context.Context, tx *store.Tx, entity store.Entity, desired []temporal.Version[E], at time.Time) (temporal.Outcome, error) {
	history, err := store.LoadHistory[E](ctx, tx, entity.Type, entity.Key)
	if err != nil {
		return "", err
	}
	plan, err := temporal.Sync(history, desired, at)
	if err != nil {
		return "", err
	}
	if err := store.ApplyPlan(ctx, tx, entity, plan); err != nil {
		return "", err
	}
	return plan.Outcome, nil
}
