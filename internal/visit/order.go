package visit

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/roach88/admitlog/internal/ir"
	"github.com/roach88/admitlog/internal/store"
)

// Entry is one applied movement of an encounter.
type Entry struct {
	Seq         int64
	Fingerprint string
	Event       ir.Event
}

func (e Entry) eventTime() time.Time    { return e.Event.Meta().EventTime }
func (e Entry) recordedTime() time.Time { return e.Event.Meta().RecordedTime }

// erases reports whether the entry deletes the encounter up to its time.
func (e Entry) erases() bool {
	_, ok := e.Event.(ir.DeletePersonInformation)
	return ok
}

func rank(e Entry) int {
	if e.erases() {
		return 1
	}
	return 0
}

// Order decodes the applied log of an encounter and sorts it by event
// time, then recorded time. A deletion sorts after the movements at its
// event time. Two different movements sharing both times fail with an
// AmbiguousOrderingError.
func Order(encounter string, applied []store.AppliedEvent) ([]Entry, error) {
	entries := make([]Entry, 0, len(applied))
	for _, a := range applied {
		ev, err := a.Event()
		if err != nil {
			return nil, fmt.Errorf("applied event %d: %w", a.Seq, err)
		}
		entries = append(entries, Entry{Seq: a.Seq, Fingerprint: a.Fingerprint, Event: ev})
	}

	slices.SortStableFunc(entries, func(a, b Entry) int {
		if c := a.eventTime().Compare(b.eventTime()); c != 0 {
			return c
		}
		if c := cmp.Compare(rank(a), rank(b)); c != 0 {
			return c
		}
		if c := a.recordedTime().Compare(b.recordedTime()); c != 0 {
			return c
		}
		return cmp.Compare(a.Seq, b.Seq)
	})

	for i := 1; i < len(entries); i++ {
		prev, cur := entries[i-1], entries[i]
		if !prev.eventTime().Equal(cur.eventTime()) || !prev.recordedTime().Equal(cur.recordedTime()) {
			continue
		}
		if prev.Fingerprint == cur.Fingerprint || prev.erases() || cur.erases() {
			continue
		}
		return nil, ir.NewAmbiguousOrderingError(encounter, map[string]string{
			"first":      prev.Fingerprint,
			"second":     cur.Fingerprint,
			"event_time": cur.eventTime().Format(time.RFC3339Nano),
		})
	}
	return entries, nil
}
