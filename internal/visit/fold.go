package visit

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/roach88/admitlog/internal/ir"
	"github.com/roach88/admitlog/internal/temporal"
)

// Desired is the timeline every visit entity of an encounter should have.
// An encounter that does not exist has an empty Root and no Locations.
type Desired struct {
	Root      []temporal.Version[ir.HospitalVisit]
	Locations map[string][]temporal.Version[ir.LocationVisit]
}

// Fold replays ordered entries through the encounter state machine.
//
// current is the fingerprint of the event being processed. A
// MessageIgnoredError raised by any other entry means that entry no longer
// has an effect and is skipped; every other error, and an ignore raised by
// current itself, is returned.
func Fold(key string, entries []Entry, current string) (Desired, error) {
	e := &encounter{key: key, open: -1}
	for _, en := range entries {
		err := e.apply(en)
		if err == nil {
			continue
		}
		if ir.IsMessageIgnored(err) && en.Fingerprint != current {
			continue
		}
		return Desired{}, err
	}
	return e.desired(), nil
}

type location struct {
	key   string
	visit ir.LocationVisit
}

// movement is a movement still in effect. at is the time it took effect,
// which cancels match against.
type movement struct {
	kind   ir.Kind
	at     time.Time
	before *encounter
}

// encounter is the fold state.
type encounter struct {
	key       string
	exists    bool
	root      []temporal.Version[ir.HospitalVisit]
	locations []location
	open      int
	movements []movement

	// erased holds the timelines ended by person deletions; erasedAt is
	// the latest deletion time.
	erased   Desired
	erasedAt time.Time
}

func (e *encounter) clone() *encounter {
	c := *e
	c.root = slices.Clone(e.root)
	c.locations = slices.Clone(e.locations)
	c.movements = slices.Clone(e.movements)
	c.erased.Root = slices.Clone(e.erased.Root)
	c.erased.Locations = maps.Clone(e.erased.Locations)
	return &c
}

func (e *encounter) apply(en Entry) error {
	switch ev := en.Event.(type) {
	case ir.Admit:
		return e.admit(ev, en.Fingerprint)
	case ir.Transfer:
		return e.transfer(ev, en.Fingerprint)
	case ir.Discharge:
		return e.discharge(ev, en.Fingerprint)
	case ir.CancelAdmit:
		return e.cancel(ir.KindAdmit, cancelTarget(ev.Header, ev.CancelledTime))
	case ir.CancelTransfer:
		return e.cancel(ir.KindTransfer, cancelTarget(ev.Header, ev.CancelledTime))
	case ir.CancelDischarge:
		return e.cancel(ir.KindDischarge, cancelTarget(ev.Header, ev.CancelledTime))
	case ir.DeletePersonInformation:
		e.erase(ev.EventTime)
		return nil
	default:
		return ir.NewUnsupportedEventError(en.Event.Kind())
	}
}

func (e *encounter) admit(ev ir.Admit, fp string) error {
	before := e.clone()
	adm := firstSet(ev.AdmissionTime, ev.EventTime)

	if !e.exists {
		if err := e.checkAfterErase(adm); err != nil {
			return err
		}
		e.exists = true
		e.root = []temporal.Version[ir.HospitalVisit]{temporal.At(adm, ir.HospitalVisit{
			Status:        ir.StatusActive,
			AdmissionTime: adm,
			PatientClass:  ev.PatientClass,
		})}
		e.openAt(locationKey(e.key, fp), ev.Location, adm, false)
	} else if err := e.readmit(adm, ev.PatientClass); err != nil {
		return err
	}

	e.push(ir.KindAdmit, adm, before)
	return nil
}

// readmit applies an admit to an existing encounter. Only the admission
// time and patient class change; the location never moves.
func (e *encounter) readmit(adm time.Time, class string) error {
	for _, v := range e.root[1:] {
		if v.ValidFrom.Before(adm) {
			return ir.NewInconsistencyError(e.key, "admission time after a later movement", map[string]string{
				"admission_time": adm.Format(time.RFC3339Nano),
				"movement_time":  v.ValidFrom.Format(time.RFC3339Nano),
			})
		}
	}
	e.root[0].ValidFrom = adm
	for i := range e.root {
		e.root[i].Value.AdmissionTime = adm
		e.root[i].Value.Implied = false
	}
	if class != "" {
		e.root[0].Value.PatientClass = class
	}
	return nil
}

func (e *encounter) transfer(ev ir.Transfer, fp string) error {
	before := e.clone()
	if !e.exists {
		adm := firstSet(ev.AdmissionTime, ev.EventTime)
		if err := e.checkAfterErase(adm); err != nil {
			return err
		}
		e.imply(fp, ev.PreviousLocation, adm, ev.PatientClass)
	}
	if e.discharged() {
		return ir.NewInconsistencyError(e.key, "transfer after discharge", map[string]string{
			"location": ev.Location,
		})
	}

	if e.open >= 0 && e.locations[e.open].visit.Location == ev.Location {
		e.push(ir.KindTransfer, ev.EventTime, before)
		return nil
	}
	if err := e.closeOpen(ev.EventTime); err != nil {
		return err
	}
	e.openAt(locationKey(e.key, fp), ev.Location, ev.EventTime, false)

	if ev.PatientClass != "" && ev.PatientClass != e.current().PatientClass {
		v := e.current()
		v.PatientClass = ev.PatientClass
		if err := e.appendRoot(ev.EventTime, v); err != nil {
			return err
		}
	}

	e.push(ir.KindTransfer, ev.EventTime, before)
	return nil
}

func (e *encounter) discharge(ev ir.Discharge, fp string) error {
	before := e.clone()
	dt := firstSet(ev.DischargeTime, ev.EventTime)
	if !e.exists {
		adm := firstSet(ev.AdmissionTime, dt)
		if err := e.checkAfterErase(adm); err != nil {
			return err
		}
		e.imply(fp, ev.Location, adm, "")
	}
	if e.discharged() {
		return ir.NewInconsistencyError(e.key, "encounter already discharged", map[string]string{
			"discharge_time": e.current().DischargeTime.Format(time.RFC3339Nano),
		})
	}
	if err := e.closeOpen(dt); err != nil {
		return err
	}

	v := e.current()
	v.Status = ir.StatusDischarged
	v.DischargeTime = dt
	v.Disposition = ev.Disposition
	v.DischargeLocation = ev.DischargeLocation
	v.Died = ev.Died
	v.DeathTime = ev.DeathTime
	if err := e.appendRoot(dt, v); err != nil {
		return err
	}

	e.push(ir.KindDischarge, dt, before)
	return nil
}

// cancel undoes the latest movement of kind at or before target.
func (e *encounter) cancel(kind ir.Kind, target time.Time) error {
	if !e.exists {
		return ir.NewMessageIgnoredError(e.key, "nothing to cancel")
	}

	idx := -1
	for i := len(e.movements) - 1; i >= 0; i-- {
		m := e.movements[i]
		if m.kind == kind && !m.at.After(target) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ir.NewMessageIgnoredError(e.key, fmt.Sprintf("no %s to cancel", kind))
	}
	if idx != len(e.movements)-1 {
		return ir.NewIrreversibleStateError(e.key, fmt.Sprintf("%s was superseded", kind))
	}

	*e = *e.movements[idx].before.clone()
	return nil
}

// erase ends every timeline of the encounter at t. Versions from t on are
// dropped and later entries start a new encounter under the same key.
// Movements before t can no longer be cancelled.
func (e *encounter) erase(t time.Time) {
	if e.exists {
		e.erased.Root = append(e.erased.Root, endAt(e.root, t)...)
		if e.erased.Locations == nil {
			e.erased.Locations = map[string][]temporal.Version[ir.LocationVisit]{}
		}
		for k, versions := range e.locationTimelines() {
			if ended := endAt(versions, t); len(ended) > 0 {
				e.erased.Locations[k] = ended
			}
		}
	}
	*e = encounter{key: e.key, open: -1, erased: e.erased, erasedAt: t}
}

// checkAfterErase rejects a new encounter that would start before the
// latest deletion.
func (e *encounter) checkAfterErase(adm time.Time) error {
	if e.erasedAt.IsZero() || !adm.Before(e.erasedAt) {
		return nil
	}
	return ir.NewInconsistencyError(e.key, "admission before person information was deleted", map[string]string{
		"admission_time": adm.Format(time.RFC3339Nano),
		"deleted_at":     e.erasedAt.Format(time.RFC3339Nano),
	})
}

// imply creates the encounter for a movement that arrived without an
// admission.
func (e *encounter) imply(fp, loc string, adm time.Time, class string) {
	e.exists = true
	e.root = []temporal.Version[ir.HospitalVisit]{temporal.At(adm, ir.HospitalVisit{
		Status:        ir.StatusActive,
		AdmissionTime: adm,
		PatientClass:  class,
		Implied:       true,
	})}
	e.openAt(locationKey(e.key, fp)+"/implied", loc, adm, true)
}

func (e *encounter) openAt(key, loc string, at time.Time, implied bool) {
	e.locations = append(e.locations, location{
		key:   key,
		visit: ir.LocationVisit{Location: loc, AdmissionTime: at, Implied: implied},
	})
	e.open = len(e.locations) - 1
}

func (e *encounter) closeOpen(at time.Time) error {
	if e.open < 0 {
		return nil
	}
	l := &e.locations[e.open]
	if at.Before(l.visit.AdmissionTime) {
		return ir.NewInconsistencyError(e.key, "location closed before it was entered", map[string]string{
			"location":       l.visit.Location,
			"admission_time": l.visit.AdmissionTime.Format(time.RFC3339Nano),
			"discharge_time": at.Format(time.RFC3339Nano),
		})
	}
	l.visit.DischargeTime = at
	e.open = -1
	return nil
}

func (e *encounter) appendRoot(at time.Time, v ir.HospitalVisit) error {
	if last := e.root[len(e.root)-1]; at.Before(last.ValidFrom) {
		return ir.NewInconsistencyError(e.key, "visit change before the previous change", map[string]string{
			"previous": last.ValidFrom.Format(time.RFC3339Nano),
			"change":   at.Format(time.RFC3339Nano),
		})
	}
	e.root = append(e.root, temporal.At(at, v))
	return nil
}

func (e *encounter) push(kind ir.Kind, at time.Time, before *encounter) {
	e.movements = append(e.movements, movement{kind: kind, at: at, before: before})
}

func (e *encounter) current() ir.HospitalVisit { return e.root[len(e.root)-1].Value }

func (e *encounter) discharged() bool {
	return e.exists && e.current().Status == ir.StatusDischarged
}

// desired renders the fold state as timelines. A location visit is open
// from its admission and, once closed, carries its discharge time from
// that time on.
//
// Timelines ended by deletions come first; a root visit started at the
// deletion time replaces the gap there.
func (e *encounter) desired() Desired {
	d := Desired{
		Root:      slices.Clone(e.erased.Root),
		Locations: maps.Clone(e.erased.Locations),
	}
	if d.Locations == nil {
		d.Locations = map[string][]temporal.Version[ir.LocationVisit]{}
	}
	if !e.exists {
		return d
	}
	d.Root = append(d.Root, e.root...)
	maps.Copy(d.Locations, e.locationTimelines())
	return d
}

func (e *encounter) locationTimelines() map[string][]temporal.Version[ir.LocationVisit] {
	out := make(map[string][]temporal.Version[ir.LocationVisit], len(e.locations))
	for _, l := range e.locations {
		open := l.visit
		open.DischargeTime = time.Time{}
		versions := []temporal.Version[ir.LocationVisit]{temporal.At(open.AdmissionTime, open)}
		if !l.visit.IsOpen() {
			versions = append(versions, temporal.At(l.visit.DischargeTime, l.visit))
		}
		out[l.key] = versions
	}
	return out
}

// endAt keeps the versions starting before t and closes them with a gap
// at t. Nothing remains of a timeline that starts at or after t.
func endAt[E any](versions []temporal.Version[E], t time.Time) []temporal.Version[E] {
	var out []temporal.Version[E]
	for _, v := range versions {
		if v.ValidFrom.Before(t) {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return append(out, temporal.Gap[E](t))
}

// locationKey names the location visit created by the event with
// fingerprint fp.
func locationKey(encounter, fp string) string {
	if len(fp) > 16 {
		fp = fp[:16]
	}
	return encounter + "/" + fp
}

func cancelTarget(h ir.Header, cancelled time.Time) time.Time {
	return firstSet(cancelled, h.EventTime)
}

func firstSet(a, b time.Time) time.Time {
	if a.IsZero() {
		return b
	}
	return a
}
