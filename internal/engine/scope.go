package engine

import (
	"fmt"

	"github.com/roach88/admitlog/internal/ir"
	"github.com/roach88/admitlog/internal/lock"
)

// subjectKey is the key an event is reported and logged under: the
// encounter for movements, the patient otherwise.
func subjectKey(ev ir.Event) string {
	h := ev.Meta()
	if ir.IsMovement(ev) {
		return h.EncounterKey
	}
	return h.PatientKey
}

// lockKeys returns the keys an event must hold while it is applied.
// Movements lock their encounter and patient. A merge locks both
// identities it joins, and so does an identifier change. A visit move
// locks both patients and the encounter.
func lockKeys(ev ir.Event) []string {
	h := ev.Meta()
	keys := []string{lock.PatientKey(h.PatientKey)}
	switch ev := ev.(type) {
	case ir.MergePatient:
		keys = append(keys, lock.PatientKey(ev.RetiredKey))
	case ir.ChangePatientIdentifiers:
		keys = append(keys, lock.PatientKey(ev.PreviousPatientKey))
	case ir.MoveVisitInformation:
		keys = append(keys, lock.PatientKey(ev.PreviousPatientKey), lock.EncounterKey(h.EncounterKey))
	default:
		if ir.IsMovement(ev) {
			keys = append(keys, lock.EncounterKey(h.EncounterKey))
		}
	}
	return keys
}

// validate rejects events missing the keys their kind needs.
func validate(ev ir.Event) error {
	h := ev.Meta()
	switch {
	case h.PatientKey == "":
		return fmt.Errorf("invalid %s event: missing patient key", ev.Kind())
	case h.EventTime.IsZero():
		return fmt.Errorf("invalid %s event: missing event time", ev.Kind())
	case ir.IsMovement(ev) && h.EncounterKey == "":
		return fmt.Errorf("invalid %s event: missing encounter key", ev.Kind())
	}
	switch ev := ev.(type) {
	case ir.MergePatient:
		if ev.RetiredKey == "" {
			return fmt.Errorf("invalid %s event: missing retired key", ev.Kind())
		}
	case ir.ChangePatientIdentifiers:
		if ev.PreviousPatientKey == "" {
			return fmt.Errorf("invalid %s event: missing previous patient key", ev.Kind())
		}
	case ir.MoveVisitInformation:
		if ev.EncounterKey == "" {
			return fmt.Errorf("invalid %s event: missing encounter key", ev.Kind())
		}
		if ev.PreviousPatientKey == "" {
			return fmt.Errorf("invalid %s event: missing previous patient key", ev.Kind())
		}
	}
	return nil
}
