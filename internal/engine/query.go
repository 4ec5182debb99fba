package engine

import (
	"context"
	"time"

	"github.com/roach88/admitlog/internal/ancillary"
	"github.com/roach88/admitlog/internal/identity"
	"github.com/roach88/admitlog/internal/ir"
	"github.com/roach88/admitlog/internal/store"
	"github.com/roach88/admitlog/internal/temporal"
	"github.com/roach88/admitlog/internal/visit"
)

// IdentityState is the current belief about a patient.
type IdentityState struct {
	identity.Identity

	// Merged lists the other keys resolving to the same identity.
	Merged []string

	Demographics *ir.Demographics
	Conditions   []ir.Condition

	// Encounters lists the encounters owned by the identity.
	Encounters []string
}

// CurrentIdentity resolves key and collects what is currently believed
// about the identity it resolves to.
func (e *Engine) CurrentIdentity(ctx context.Context, key string) (IdentityState, error) {
	var state IdentityState
	err := e.store.View(ctx, func(tx *store.Tx) error {
		id, err := e.resolver.Resolve(ctx, tx, key)
		if err != nil {
			return err
		}
		state.Identity = id

		if state.Merged, err = e.resolver.MergedInto(ctx, tx, key); err != nil {
			return err
		}
		demographics, ok, err := ancillary.Demographics(ctx, tx, id.Canonical)
		if err != nil {
			return err
		}
		if ok {
			state.Demographics = &demographics
		}
		if state.Conditions, err = ancillary.Conditions(ctx, tx, id.Canonical); err != nil {
			return err
		}
		state.Encounters, err = liveEncounters(ctx, tx, id.Canonical)
		return err
	})
	if err != nil {
		return IdentityState{}, err
	}
	return state, nil
}

// liveEncounters lists the encounters of owner whose visit is currently
// believed. Encounters ended by a person deletion stay owned but are left
// out.
func liveEncounters(ctx context.Context, tx *store.Tx, owner string) ([]string, error) {
	keys, err := tx.Owned(ctx, owner, ir.EntityVisit)
	if err != nil {
		return nil, err
	}
	out := keys[:0]
	for _, k := range keys {
		history, err := store.LoadHistory[ir.HospitalVisit](ctx, tx, ir.EntityVisit, k)
		if err != nil {
			return nil, err
		}
		if live, ok := temporal.Live(history); ok && !live.Tombstone {
			out = append(out, k)
		}
	}
	return out, nil
}

// CurrentEncounterState returns the current visit and location visits of
// an encounter.
func (e *Engine) CurrentEncounterState(ctx context.Context, key string) (visit.State, error) {
	var state visit.State
	err := e.store.View(ctx, func(tx *store.Tx) error {
		var err error
		state, err = visit.Load(ctx, tx, key)
		return err
	})
	return state, err
}

// History returns every row ever stored for an entity, in stored order.
func (e *Engine) History(ctx context.Context, entityType, key string) ([]temporal.Record[store.Raw], error) {
	var history []temporal.Record[store.Raw]
	err := e.store.View(ctx, func(tx *store.Tx) error {
		var err error
		history, err = store.LoadHistory[store.Raw](ctx, tx, entityType, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, ir.NewNotFoundError(entityType, key)
	}
	return history, nil
}

// HistoryOf answers what was believed at storedTime about an entity as of
// eventTime. A tombstone or an uncovered point fails with NotFoundError.
func (e *Engine) HistoryOf(ctx context.Context, entityType, key string, eventTime, storedTime time.Time) (temporal.Record[store.Raw], error) {
	history, err := e.History(ctx, entityType, key)
	if err != nil {
		return temporal.Record[store.Raw]{}, err
	}
	r, ok := temporal.AsOf(history, ir.Normalize(eventTime), ir.Normalize(storedTime))
	if !ok {
		return temporal.Record[store.Raw]{}, ir.NewNotFoundError(entityType, key)
	}
	return r, nil
}
