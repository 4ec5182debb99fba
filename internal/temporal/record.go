package temporal

import (
	"cmp"
	"slices"
	"time"
)

// Fact is a versioned value with semantic equality over its tracked fields.
type Fact[E any] interface {
	Equal(E) bool
}

// Record is one bitemporal row of an entity.
type Record[E any] struct {
	ID         int64
	EntityType string
	EntityKey  string
	Value      E

	// Tombstone marks a row asserting that the entity did not exist over
	// its valid interval.
	Tombstone bool

	ValidFrom   time.Time
	ValidUntil  *time.Time
	StoredFrom  time.Time
	StoredUntil *time.Time
}

// IsLive reports whether r is the current belief.
func (r Record[E]) IsLive() bool { return r.StoredUntil == nil }

// IsRetracted reports whether r was closed with an empty valid interval.
func (r Record[E]) IsRetracted() bool {
	return r.ValidUntil != nil && !r.ValidUntil.After(r.ValidFrom)
}

// Close returns a closed copy of r. The receiver is not modified.
func (r Record[E]) Close(validUntil, storedUntil time.Time) Record[E] {
	closed := r
	closed.ValidUntil = &validUntil
	closed.StoredUntil = &storedUntil
	return closed
}

// asserted returns the valid interval r asserts when viewed from processing
// time stored. A nil stored means the current view.
func (r Record[E]) asserted(stored *time.Time) (time.Time, *time.Time) {
	if stored == nil {
		return r.ValidFrom, r.ValidUntil
	}
	if r.StoredUntil != nil && !r.StoredUntil.After(*stored) {
		return r.ValidFrom, r.ValidUntil
	}
	return r.ValidFrom, nil
}

// Contains reports whether r, as known at storedTime, asserts a valid
// interval containing eventTime.
func (r Record[E]) Contains(eventTime, storedTime time.Time) bool {
	if r.StoredFrom.After(storedTime) {
		return false
	}
	from, until := r.asserted(&storedTime)
	return covers(from, until, eventTime)
}

func covers(from time.Time, until *time.Time, t time.Time) bool {
	if t.Before(from) {
		return false
	}
	return until == nil || t.Before(*until)
}

// Live returns the live row of history, if any.
func Live[E any](history []Record[E]) (Record[E], bool) {
	for _, r := range history {
		if r.IsLive() {
			return r, true
		}
	}
	return Record[E]{}, false
}

// AsOf returns the record believed at storedTime to hold at eventTime.
// It reports false when no record covers the point or a tombstone wins.
func AsOf[E any](history []Record[E], eventTime, storedTime time.Time) (Record[E], bool) {
	rows := byStored(history)
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].Contains(eventTime, storedTime) {
			if rows[i].Tombstone {
				return Record[E]{}, false
			}
			return rows[i], true
		}
	}
	return Record[E]{}, false
}

// byStored returns a copy of history ordered by (StoredFrom, ID).
func byStored[E any](history []Record[E]) []Record[E] {
	rows := slices.Clone(history)
	slices.SortStableFunc(rows, func(a, b Record[E]) int {
		if c := a.StoredFrom.Compare(b.StoredFrom); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return rows
}

// latestStored returns the newest processing timestamp recorded in history.
func latestStored[E any](history []Record[E]) time.Time {
	var latest time.Time
	for _, r := range history {
		if r.StoredFrom.After(latest) {
			latest = r.StoredFrom
		}
		if r.StoredUntil != nil && r.StoredUntil.After(latest) {
			latest = *r.StoredUntil
		}
	}
	return latest
}
