package engine

import (
	"context"
	"time"

	"github.com/roach88/admitlog/internal/guard"
	"github.com/roach88/admitlog/internal/identity"
	"github.com/roach88/admitlog/internal/ir"
	"github.com/roach88/admitlog/internal/store"
	"github.com/roach88/admitlog/internal/temporal"
)

// outcomeMoved is the change outcome of an encounter handed to another
// patient.
const outcomeMoved = "moved"

// dispatch routes an event to its handler. Every kind in ir.Kinds has a
// case; anything else is rejected.
func (e *Engine) dispatch(ctx context.Context, tx *store.Tx, ev ir.Event, fp string, at time.Time) ([]Change, error) {
	switch ev := ev.(type) {
	case ir.Admit, ir.Transfer, ir.Discharge, ir.CancelAdmit, ir.CancelTransfer, ir.CancelDischarge:
		return e.movement(ctx, tx, ev, fp, at)

	case ir.MergePatient:
		return e.merge(ctx, tx, ev, at)

	case ir.UpdatePatientInfo:
		id, changes, err := e.identify(ctx, tx, ev.Header, at)
		if err != nil {
			return nil, err
		}
		outcome, err := e.ancillary.UpdateDemographics(ctx, tx, id.Canonical, ev, at)
		if err != nil {
			return nil, err
		}
		if outcome == temporal.NoOp {
			return nil, ir.NewMessageIgnoredError(ev.PatientKey, "demographics unchanged")
		}
		return append(changes, Change{ir.EntityDemographics, id.Canonical, string(outcome)}), nil

	case ir.PatientInfection:
		id, changes, err := e.identify(ctx, tx, ev.Header, at)
		if err != nil {
			return nil, err
		}
		outcome, err := e.ancillary.RecordCondition(ctx, tx, id.Canonical, ev, at)
		if err != nil {
			return nil, err
		}
		if outcome == temporal.NoOp {
			return nil, ir.NewMessageIgnoredError(ev.PatientKey, "condition unchanged")
		}
		return append(changes, Change{ir.EntityCondition, id.Canonical + "/" + ev.Code, string(outcome)}), nil

	case ir.DeletePersonInformation:
		return e.deletePerson(ctx, tx, ev, fp, at)

	case ir.MoveVisitInformation:
		return e.moveVisit(ctx, tx, ev, at)

	case ir.ChangePatientIdentifiers:
		return e.changeIdentifiers(ctx, tx, ev, at)

	default:
		return nil, ir.NewUnsupportedEventError(ev.Kind())
	}
}

// identify resolves the patient of an event, creating the identity on
// first sight.
func (e *Engine) identify(ctx context.Context, tx *store.Tx, h ir.Header, at time.Time) (identity.Identity, []Change, error) {
	id, outcome, err := e.resolver.GetOrCreate(ctx, tx, h.PatientKey, h.EventTime, at)
	if err != nil {
		return identity.Identity{}, nil, err
	}
	var changes []Change
	if outcome == temporal.Created {
		changes = append(changes, Change{ir.EntityLivePointer, h.PatientKey, string(outcome)})
	}
	return id, changes, nil
}

// movement attaches the encounter to its patient and reconciles it.
func (e *Engine) movement(ctx context.Context, tx *store.Tx, ev ir.Event, fp string, at time.Time) ([]Change, error) {
	h := ev.Meta()
	id, changes, err := e.identify(ctx, tx, h, at)
	if err != nil {
		return nil, err
	}

	owner, owned, err := tx.Owner(ctx, ir.EntityVisit, h.EncounterKey)
	if err != nil {
		return nil, err
	}
	switch {
	case !owned:
		if err := tx.SetOwner(ctx, ir.EntityVisit, h.EncounterKey, id.Canonical); err != nil {
			return nil, err
		}
	case owner != id.Canonical:
		// Ownership changes only through merges and visit moves.
		e.logger.Warn("encounter owned by another identity",
			"encounter_key", h.EncounterKey,
			"owner", owner,
			"patient_key", h.PatientKey,
		)
	}

	result, err := e.reconciler.Reconcile(ctx, tx, h.EncounterKey, fp, at)
	if err != nil {
		return nil, err
	}
	for _, c := range result.Changes {
		if c.Outcome == temporal.NoOp {
			continue
		}
		changes = append(changes, Change{c.Entity.Type, c.Entity.Key, string(c.Outcome)})
	}
	return changes, nil
}

func (e *Engine) merge(ctx context.Context, tx *store.Tx, ev ir.MergePatient, at time.Time) ([]Change, error) {
	result, err := e.resolver.Merge(ctx, tx, ev.RetiredKey, ev.PatientKey, ev.EventTime, at)
	if err != nil {
		return nil, err
	}
	if result.Outcome == identity.AlreadyMerged {
		return nil, ir.NewMessageIgnoredError(ev.PatientKey, "identities already merged")
	}
	changes := make([]Change, 0, len(result.Redirected))
	for _, key := range result.Redirected {
		changes = append(changes, Change{ir.EntityLivePointer, key, string(identity.Merged)})
	}
	return changes, nil
}

// deletePerson ends the demographics, conditions and encounters of the
// patient at the event time. The event is recorded in the log of every
// owned encounter so later movements replay around the deletion.
func (e *Engine) deletePerson(ctx context.Context, tx *store.Tx, ev ir.DeletePersonInformation, fp string, at time.Time) ([]Change, error) {
	id, err := e.resolver.Resolve(ctx, tx, ev.PatientKey)
	if err != nil {
		return nil, err
	}
	n, err := e.ancillary.DeletePerson(ctx, tx, id.Canonical, ev, at)
	if err != nil {
		return nil, err
	}
	var changes []Change
	if n > 0 {
		changes = append(changes, Change{"person_information", id.Canonical, string(temporal.Removed)})
	}

	encounters, err := tx.Owned(ctx, id.Canonical, ir.EntityVisit)
	if err != nil {
		return nil, err
	}
	for _, enc := range encounters {
		if err := e.guard.RecordIn(ctx, tx, guard.EncounterScope(enc), ev, fp, at); err != nil {
			return nil, err
		}
		result, err := e.reconciler.Reconcile(ctx, tx, enc, fp, at)
		if err != nil {
			return nil, err
		}
		for _, c := range result.Changes {
			if c.Outcome != temporal.NoOp {
				changes = append(changes, Change{c.Entity.Type, c.Entity.Key, string(c.Outcome)})
			}
		}
	}

	if len(changes) == 0 {
		return nil, ir.NewMessageIgnoredError(ev.PatientKey, "no person information to delete")
	}
	return changes, nil
}

// moveVisit hands the encounter of ev from its previous patient to the
// patient of ev.
func (e *Engine) moveVisit(ctx context.Context, tx *store.Tx, ev ir.MoveVisitInformation, at time.Time) ([]Change, error) {
	if ev.PreviousPatientKey == ev.PatientKey {
		return nil, ir.NewInconsistencyError(ev.EncounterKey, "visit move keeps the patient", map[string]string{
			"patient_key": ev.PatientKey,
		})
	}
	previous, changes, err := e.identify(ctx, tx, ir.Header{PatientKey: ev.PreviousPatientKey, EventTime: ev.EventTime}, at)
	if err != nil {
		return nil, err
	}
	current, created, err := e.identify(ctx, tx, ev.Header, at)
	if err != nil {
		return nil, err
	}
	changes = append(changes, created...)

	owner, owned, err := tx.Owner(ctx, ir.EntityVisit, ev.EncounterKey)
	if err != nil {
		return nil, err
	}
	switch {
	case !owned:
		if err := tx.SetOwner(ctx, ir.EntityVisit, ev.EncounterKey, current.Canonical); err != nil {
			return nil, err
		}
	case owner == current.Canonical:
		return nil, ir.NewMessageIgnoredError(ev.EncounterKey, "encounter already belongs to the patient")
	case owner != previous.Canonical:
		return nil, ir.NewInconsistencyError(ev.EncounterKey, "encounter owned by another identity", map[string]string{
			"owner":                owner,
			"previous_patient_key": ev.PreviousPatientKey,
		})
	default:
		if _, err := tx.MoveOwner(ctx, ir.EntityVisit, ev.EncounterKey, current.Canonical); err != nil {
			return nil, err
		}
	}

	e.logger.Info("moved visit",
		"encounter_key", ev.EncounterKey,
		"previous_patient_key", ev.PreviousPatientKey,
		"patient_key", ev.PatientKey,
	)
	return append(changes, Change{ir.EntityVisit, ev.EncounterKey, outcomeMoved}), nil
}

// changeIdentifiers replaces the previous patient key with the key of ev.
func (e *Engine) changeIdentifiers(ctx context.Context, tx *store.Tx, ev ir.ChangePatientIdentifiers, at time.Time) ([]Change, error) {
	result, err := e.resolver.Rename(ctx, tx, ev.PreviousPatientKey, ev.PatientKey, ev.EventTime, at)
	if err != nil {
		return nil, err
	}
	changes := []Change{{ir.EntityLivePointer, ev.PatientKey, string(temporal.Created)}}
	for _, key := range result.Redirected {
		changes = append(changes, Change{ir.EntityLivePointer, key, string(identity.Renamed)})
	}
	return changes, nil
}
