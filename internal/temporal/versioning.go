package temporal

import (
	"fmt"
	"time"

	"github.com/roach88/admitlog/internal/ir"
)

// Outcome classifies the effect of a versioning decision.
type Outcome string

const (
	Created           Outcome = "created"
	NoOp              Outcome = "noop"
	Superseded        Outcome = "superseded"
	RetroactiveInsert Outcome = "retroactive_insert"
	Rewritten         Outcome = "rewritten"
	Removed           Outcome = "removed"
)

// Plan is the set of row transitions that realises a versioning decision.
// Closed holds closed copies of existing live rows; Inserts holds new rows
// with ID zero.
type Plan[E any] struct {
	Outcome Outcome
	Closed  []Record[E]
	Inserts []Record[E]
}

// Changed reports whether applying the plan writes anything.
func (p Plan[E]) Changed() bool {
	return len(p.Closed) > 0 || len(p.Inserts) > 0
}

// ApplyTo returns history with the plan applied, assigning IDs to inserted
// rows starting at nextID. It returns the next unused ID.
func (p Plan[E]) ApplyTo(history []Record[E], nextID int64) ([]Record[E], int64) {
	out := make([]Record[E], 0, len(history)+len(p.Inserts))
	for _, r := range history {
		for _, c := range p.Closed {
			if c.ID == r.ID {
				r = c
				break
			}
		}
		out = append(out, r)
	}
	for _, r := range p.Inserts {
		r.ID = nextID
		nextID++
		out = append(out, r)
	}
	return out, nextID
}

// Apply versions a single fact asserted from eventTime onwards.
//
// Equal to the live row or to a believed segment starting at eventTime is
// NoOp. A different value at an existing segment start is an
// InconsistencyError. Otherwise the fact is spliced into the believed
// timeline and holds until the next believed segment.
func Apply[E Fact[E]](history []Record[E], fact E, eventTime, processingTime time.Time) (Plan[E], error) {
	live, hasLive := Live(history)
	if hasLive && live.Value.Equal(fact) {
		return Plan[E]{Outcome: NoOp}, nil
	}

	believed := Believed(history)
	pos := len(believed)
	for i, seg := range believed {
		if seg.ValidFrom.Equal(eventTime) {
			if !seg.Absent && seg.Value.Equal(fact) {
				return Plan[E]{Outcome: NoOp}, nil
			}
			return Plan[E]{}, ir.NewInconsistencyError(entityKey(history),
				"conflicting facts at the same event time",
				map[string]string{"event_time": eventTime.Format(time.RFC3339Nano)})
		}
		if seg.ValidFrom.After(eventTime) {
			pos = i
			break
		}
	}

	desired := make([]Version[E], 0, len(believed)+1)
	desired = append(desired, believed[:pos]...)
	desired = append(desired, At(eventTime, fact))
	desired = append(desired, believed[pos:]...)

	plan, err := Sync(history, desired, processingTime)
	if err != nil {
		return Plan[E]{}, err
	}
	if plan.Outcome == Rewritten && pos < len(believed) {
		plan.Outcome = RetroactiveInsert
	}
	return plan, nil
}

// Sync plans the row transitions that make the believed timeline of
// history equal to desired.
//
// Appending to the believed timeline closes the live row and inserts the
// new segments (Created or Superseded). Adding one segment before existing
// ones inserts it as a closed row (RetroactiveInsert). Any other change
// retracts the live row and repaints the timeline from the segment before
// the first difference (Rewritten, or Removed when nothing remains).
//
// processingTime is raised to the newest processing time already in
// history so stored order never runs backwards.
func Sync[E Fact[E]](history []Record[E], desired []Version[E], processingTime time.Time) (Plan[E], error) {
	at := ir.Later(processingTime, latestStored(history))
	b := Believed(history)
	d := normalize(desired)
	live, hasLive := Live(history)

	k := 0
	for k < len(b) && k < len(d) && sameVersion(b[k], d[k]) {
		k++
	}
	if k == len(b) && k == len(d) {
		return Plan[E]{Outcome: NoOp}, nil
	}

	w := planWriter[E]{history: history, at: at}

	switch {
	case k == len(b) && canExtend(b, d[k], live, hasLive):
		if hasLive {
			w.close(live, d[k].ValidFrom)
		}
		w.paint(d, k)
		switch {
		case hasLive && d[len(d)-1].Absent:
			w.plan.Outcome = Removed
		case hasLive:
			w.plan.Outcome = Superseded
		default:
			w.plan.Outcome = Created
		}

	case isSingleInsert(b, d, k):
		if k > 0 && !b[k-1].Absent {
			w.insert(b[k-1].ValidFrom, &d[k].ValidFrom, b[k-1].Value, false, true)
		}
		next := b[k].ValidFrom
		w.insert(d[k].ValidFrom, &next, d[k].Value, d[k].Absent, true)
		w.plan.Outcome = RetroactiveInsert

	default:
		if hasLive {
			w.close(live, live.ValidFrom)
		}
		from := max(k-1, 0)
		if len(d) == 0 {
			if len(b) > 0 {
				var zero E
				w.insert(b[0].ValidFrom, nil, zero, true, true)
			}
		} else {
			if k == 0 && len(b) > 0 && b[0].ValidFrom.Before(d[0].ValidFrom) {
				var zero E
				until := d[0].ValidFrom
				w.insert(b[0].ValidFrom, &until, zero, true, true)
			}
			w.paint(d, from)
		}
		w.plan.Outcome = Rewritten
		if len(d) == 0 || d[len(d)-1].Absent {
			w.plan.Outcome = Removed
		}
	}

	if err := w.validate(); err != nil {
		return Plan[E]{}, err
	}
	return w.plan, nil
}

// canExtend reports whether next can be appended after the believed
// timeline by closing the live row.
func canExtend[E Fact[E]](b []Version[E], next Version[E], live Record[E], hasLive bool) bool {
	if !hasLive {
		return len(b) == 0 || b[len(b)-1].Absent
	}
	if len(b) == 0 || b[len(b)-1].Absent {
		return false
	}
	return !next.ValidFrom.Before(live.ValidFrom)
}

// isSingleInsert reports whether d equals b with one segment added at k,
// before an existing segment.
func isSingleInsert[E Fact[E]](b, d []Version[E], k int) bool {
	if k >= len(b) || len(d) != len(b)+1 {
		return false
	}
	for i := k; i < len(b); i++ {
		if !sameVersion(b[i], d[i+1]) {
			return false
		}
	}
	return true
}

type planWriter[E any] struct {
	history []Record[E]
	at      time.Time
	plan    Plan[E]
}

func (w *planWriter[E]) close(r Record[E], validUntil time.Time) {
	w.plan.Closed = append(w.plan.Closed, r.Close(validUntil, w.at))
}

// insert adds a row over [from, until). Closed rows are stored and
// superseded at the same processing time.
func (w *planWriter[E]) insert(from time.Time, until *time.Time, value E, tombstone, closed bool) {
	r := Record[E]{
		EntityType: entityType(w.history),
		EntityKey:  entityKey(w.history),
		Value:      value,
		Tombstone:  tombstone,
		ValidFrom:  from,
		StoredFrom: w.at,
	}
	if until != nil {
		u := *until
		r.ValidUntil = &u
	}
	if closed {
		at := w.at
		r.StoredUntil = &at
	}
	w.plan.Inserts = append(w.plan.Inserts, r)
}

// paint inserts rows for d[from:]. The last present segment becomes the
// live row; gaps become tombstones.
func (w *planWriter[E]) paint(d []Version[E], from int) {
	for i := from; i < len(d); i++ {
		var until *time.Time
		if i+1 < len(d) {
			next := d[i+1].ValidFrom
			until = &next
		}
		switch {
		case d[i].Absent:
			w.insert(d[i].ValidFrom, until, d[i].Value, true, true)
		case until == nil:
			w.insert(d[i].ValidFrom, nil, d[i].Value, false, false)
		default:
			w.insert(d[i].ValidFrom, until, d[i].Value, false, true)
		}
	}
}

func (w *planWriter[E]) validate() error {
	live := 0
	for _, r := range w.plan.Inserts {
		if r.IsLive() {
			live++
		}
		if r.ValidUntil != nil && r.ValidUntil.Before(r.ValidFrom) {
			return fmt.Errorf("invalid interval for %s: valid_until before valid_from", r.EntityKey)
		}
	}
	if live > 1 {
		return fmt.Errorf("plan for %s inserts %d live rows", entityKey(w.history), live)
	}
	for _, r := range w.plan.Closed {
		if r.ValidUntil.Before(r.ValidFrom) {
			return fmt.Errorf("invalid close of %s: valid_until before valid_from", r.EntityKey)
		}
	}
	return nil
}

func entityType[E any](history []Record[E]) string {
	if len(history) > 0 {
		return history[0].EntityType
	}
	return ""
}

func entityKey[E any](history []Record[E]) string {
	if len(history) > 0 {
		return history[0].EntityKey
	}
	return ""
}
