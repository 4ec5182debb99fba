// Package ancillary versions the facts attached to a patient identity
// outside its encounters: demographics and conditions such as infections.
//
// Each fact is owned by a canonical identity. Merges move ownership, so
// the facts of a retired identity follow the survivor without being
// copied.
package ancillary

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/admitlog/internal/ir"
	"github.com/roach88/admitlog/internal/store"
	"github.com/roach88/admitlog/internal/temporal"
)

// Handler applies ancillary events inside store transactions.
type Handler struct {
	logger *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// New creates a Handler.
func New(opts ...Option) *Handler {
	h := &Handler{logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func demographicsEntity(owner string) store.Entity {
	return store.Entity{Type: ir.EntityDemographics, Key: owner, Scope: owner}
}

// UpdateDemographics versions the demographics of owner from the event
// time on.
func (h *Handler) UpdateDemographics(ctx context.Context, tx *store.Tx, owner string, ev ir.UpdatePatientInfo, at time.Time) (temporal.Outcome, error) {
	entity := demographicsEntity(owner)
	outcome, err := apply(ctx, tx, entity, ev.Demographics, ev.EventTime, at)
	if err != nil {
		return "", err
	}
	if err := tx.SetOwner(ctx, entity.Type, entity.Key, owner); err != nil {
		return "", err
	}
	h.logger.Debug("versioned demographics",
		"patient_key", owner,
		"outcome", string(outcome),
	)
	return outcome, nil
}

// RecordCondition versions one condition of owner from the event time on.
// A condition is identified by its code and added time.
func (h *Handler) RecordCondition(ctx context.Context, tx *store.Tx, owner string, ev ir.PatientInfection, at time.Time) (temporal.Outcome, error) {
	if ev.Code == "" {
		return "", ir.NewInconsistencyError(owner, "condition without code", nil)
	}
	key, err := conditionKey(ctx, tx, owner, ev.Condition)
	if err != nil {
		return "", err
	}
	entity := store.Entity{Type: ir.EntityCondition, Key: key, Scope: owner}

	outcome, err := apply(ctx, tx, entity, ev.Condition, ev.EventTime, at)
	if err != nil {
		return "", err
	}
	if err := tx.SetOwner(ctx, entity.Type, entity.Key, owner); err != nil {
		return "", err
	}
	h.logger.Debug("versioned condition",
		"patient_key", owner,
		"condition", key,
		"outcome", string(outcome),
	)
	return outcome, nil
}

// DeletePerson ends the demographics and every condition of owner at the
// event time, including those owner took over in merges. Segments
// starting at or after the event time are dropped. It returns the number
// of entities that changed.
func (h *Handler) DeletePerson(ctx context.Context, tx *store.Tx, owner string, ev ir.DeletePersonInformation, at time.Time) (int, error) {
	changed := 0

	demographics, err := tx.Owned(ctx, owner, ir.EntityDemographics)
	if err != nil {
		return 0, err
	}
	if !slices.Contains(demographics, owner) {
		demographics = append(demographics, owner)
	}
	for _, k := range demographics {
		// Demographics are keyed by the identity that first wrote them.
		entity := store.Entity{Type: ir.EntityDemographics, Key: k, Scope: k}
		outcome, err := end[ir.Demographics](ctx, tx, entity, ev.EventTime, at)
		if err != nil {
			return 0, err
		}
		if outcome != temporal.NoOp {
			changed++
		}
	}

	keys, err := tx.Owned(ctx, owner, ir.EntityCondition)
	if err != nil {
		return 0, err
	}
	for _, k := range keys {
		entity := store.Entity{Type: ir.EntityCondition, Key: k, Scope: owner}
		outcome, err := end[ir.Condition](ctx, tx, entity, ev.EventTime, at)
		if err != nil {
			return 0, err
		}
		if outcome != temporal.NoOp {
			changed++
		}
	}

	h.logger.Info("deleted person information",
		"patient_key", owner,
		"entities", changed,
	)
	return changed, nil
}

// Demographics returns the current demographics of owner. When owner has
// none of its own, the demographics of an identity merged into it or
// renamed to it stand in.
func Demographics(ctx context.Context, tx *store.Tx, owner string) (ir.Demographics, bool, error) {
	keys, err := tx.Owned(ctx, owner, ir.EntityDemographics)
	if err != nil {
		return ir.Demographics{}, false, err
	}
	keys = slices.DeleteFunc(keys, func(k string) bool { return k == owner })
	for _, k := range append([]string{owner}, keys...) {
		history, err := store.LoadHistory[ir.Demographics](ctx, tx, ir.EntityDemographics, k)
		if err != nil {
			return ir.Demographics{}, false, err
		}
		if live, ok := temporal.Live(history); ok && !live.Tombstone {
			return live.Value, true, nil
		}
	}
	return ir.Demographics{}, false, nil
}

// Conditions returns the current conditions owned by owner.
func Conditions(ctx context.Context, tx *store.Tx, owner string) ([]ir.Condition, error) {
	keys, err := tx.Owned(ctx, owner, ir.EntityCondition)
	if err != nil {
		return nil, err
	}
	var out []ir.Condition
	for _, k := range keys {
		history, err := store.LoadHistory[ir.Condition](ctx, tx, ir.EntityCondition, k)
		if err != nil {
			return nil, err
		}
		if live, ok := temporal.Live(history); ok && !live.Tombstone {
			out = append(out, live.Value)
		}
	}
	return out, nil
}

// conditionKey finds the entity of a condition among the conditions of
// owner, which may have been created under a since merged identity.
func conditionKey(ctx context.Context, tx *store.Tx, owner string, c ir.Condition) (string, error) {
	suffix := "/" + c.Code + "/" + strconv.FormatInt(c.AddedTime.UnixMicro(), 10)
	owned, err := tx.Owned(ctx, owner, ir.EntityCondition)
	if err != nil {
		return "", err
	}
	for _, k := range owned {
		if strings.HasSuffix(k, suffix) {
			return k, nil
		}
	}
	return owner + suffix, nil
}

func apply[E temporal.Fact[E]](ctx context.Context, tx *store.Tx, entity store.Entity, fact E, eventTime, at time.Time) (temporal.Outcome, error) {
	history, err := store.LoadHistory[E](ctx, tx, entity.Type, entity.Key)
	if err != nil {
		return "", err
	}
	plan, err := temporal.Apply(history, fact, eventTime, at)
	if err != nil {
		return "", fmt.Errorf("version %s: %w", entity, err)
	}
	if err := store.ApplyPlan(ctx, tx, entity, plan); err != nil {
		return "", err
	}
	return plan.Outcome, nil
}

// end syncs the timeline of entity to its believed segments before t
// followed by a gap.
func end[E temporal.Fact[E]](ctx context.Context, tx *store.Tx, entity store.Entity, t, at time.Time) (temporal.Outcome, error) {
	history, err := store.LoadHistory[E](ctx, tx, entity.Type, entity.Key)
	if err != nil {
		return "", err
	}
	believed := temporal.Believed(history)
	if len(believed) == 0 {
		return temporal.NoOp, nil
	}

	var desired []temporal.Version[E]
	for _, v := range believed {
		if v.ValidFrom.Before(t) {
			desired = append(desired, v)
		}
	}
	desired = append(desired, temporal.Gap[E](t))

	plan, err := temporal.Sync(history, desired, at)
	if err != nil {
		return "", fmt.Errorf("end %s: %w", entity, err)
	}
	if err := store.ApplyPlan(ctx, tx, entity, plan); err != nil {
		return "", err
	}
	return plan.Outcome, nil
}
