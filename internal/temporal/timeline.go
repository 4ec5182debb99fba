package temporal

import (
	"slices"
	"time"
)

// Version is one segment of a believed timeline. A segment holds from
// ValidFrom until the next segment's ValidFrom; the last one is open-ended.
// Absent segments are gaps where the entity did not exist.
type Version[E any] struct {
	ValidFrom time.Time
	Value     E
	Absent    bool
}

// At returns a present segment starting at t.
func At[E any](t time.Time, value E) Version[E] {
	return Version[E]{ValidFrom: t, Value: value}
}

// Gap returns an absent segment starting at t.
func Gap[E any](t time.Time) Version[E] {
	return Version[E]{ValidFrom: t, Absent: true}
}

func sameVersion[E Fact[E]](a, b Version[E]) bool {
	return a.ValidFrom.Equal(b.ValidFrom) && sameValue(a, b)
}

func sameValue[E Fact[E]](a, b Version[E]) bool {
	if a.Absent || b.Absent {
		return a.Absent == b.Absent
	}
	return a.Value.Equal(b.Value)
}

// Believed returns the timeline history currently asserts.
func Believed[E Fact[E]](history []Record[E]) []Version[E] {
	return paint(history, nil)
}

// BelievedAt returns the timeline history asserted at processing time
// storedTime.
func BelievedAt[E Fact[E]](history []Record[E], storedTime time.Time) []Version[E] {
	return paint(history, &storedTime)
}

// paint overlays the asserted intervals of history in stored order and
// reads back the winner of every elementary interval. Adjacent equal
// segments are merged and a leading gap is dropped.
func paint[E Fact[E]](history []Record[E], stored *time.Time) []Version[E] {
	type span struct {
		from  time.Time
		until *time.Time
		row   Record[E]
	}

	var (
		spans  []span
		points []time.Time
	)
	for _, r := range byStored(history) {
		if stored != nil && r.StoredFrom.After(*stored) {
			continue
		}
		from, until := r.asserted(stored)
		if until != nil && !until.After(from) {
			continue
		}
		spans = append(spans, span{from: from, until: until, row: r})
		points = append(points, from)
		if until != nil {
			points = append(points, *until)
		}
	}
	slices.SortFunc(points, func(a, b time.Time) int { return a.Compare(b) })
	points = slices.CompactFunc(points, func(a, b time.Time) bool { return a.Equal(b) })

	var out []Version[E]
	for _, p := range points {
		v := Version[E]{ValidFrom: p, Absent: true}
		for i := len(spans) - 1; i >= 0; i-- {
			if covers(spans[i].from, spans[i].until, p) {
				if !spans[i].row.Tombstone {
					v.Absent = false
					v.Value = spans[i].row.Value
				}
				break
			}
		}
		if len(out) == 0 && v.Absent {
			continue
		}
		if len(out) > 0 && sameValue(out[len(out)-1], v) {
			continue
		}
		out = append(out, v)
	}
	return out
}

// normalize orders desired by ValidFrom, keeps the last of several
// segments with the same start, merges equal neighbours into the earlier
// one and drops leading gaps.
func normalize[E Fact[E]](desired []Version[E]) []Version[E] {
	sorted := slices.Clone(desired)
	slices.SortStableFunc(sorted, func(a, b Version[E]) int { return a.ValidFrom.Compare(b.ValidFrom) })

	var out []Version[E]
	for _, v := range sorted {
		if n := len(out); n > 0 && out[n-1].ValidFrom.Equal(v.ValidFrom) {
			out[n-1] = v
			continue
		}
		out = append(out, v)
	}

	var merged []Version[E]
	for _, v := range out {
		if len(merged) == 0 && v.Absent {
			continue
		}
		if n := len(merged); n > 0 && sameValue(merged[n-1], v) {
			continue
		}
		merged = append(merged, v)
	}
	return merged
}
