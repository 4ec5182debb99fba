package temporal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// label is a minimal fact used across the package tests.
type label string

func (l label) Equal(o label) bool { return l == o }

var base = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

// ev returns an event time n minutes after base.
func ev(n int) time.Time { return base.Add(time.Duration(n) * time.Minute) }

// st returns a processing time n hours after base.
func st(n int) time.Time { return base.Add(time.Duration(n) * time.Hour) }

func ptr(t time.Time) *time.Time { return &t }

// apply runs a plan against history the way the store would.
func apply[E any](history []Record[E], plan Plan[E]) []Record[E] {
	next := int64(1)
	for _, r := range history {
		if r.ID >= next {
			next = r.ID + 1
		}
	}
	out, _ := plan.ApplyTo(history, next)
	return out
}

func liveCount[E any](history []Record[E]) int {
	n := 0
	for _, r := range history {
		if r.IsLive() {
			n++
		}
	}
	return n
}

func TestRecordClose(t *testing.T) {
	r := Record[label]{ID: 1, Value: "A", ValidFrom: ev(10), StoredFrom: st(1)}
	closed := r.Close(ev(20), st(2))

	assert.True(t, r.IsLive(), "receiver must not change")
	assert.Nil(t, r.ValidUntil)
	assert.False(t, closed.IsLive())
	assert.Equal(t, ev(20), *closed.ValidUntil)
	assert.Equal(t, st(2), *closed.StoredUntil)
	assert.False(t, closed.IsRetracted())
	assert.True(t, r.Close(ev(10), st(2)).IsRetracted())
}

func TestRecordContains(t *testing.T) {
	closed := Record[label]{
		Value:       "A",
		ValidFrom:   ev(10),
		ValidUntil:  ptr(ev(20)),
		StoredFrom:  st(1),
		StoredUntil: ptr(st(2)),
	}

	tests := []struct {
		name   string
		event  time.Time
		stored time.Time
		want   bool
	}{
		{"before stored", ev(15), st(0), false},
		{"while live asserts open interval", ev(25), st(1), true},
		{"after close asserts closed interval", ev(25), st(2), false},
		{"inside closed interval", ev(15), st(3), true},
		{"valid_until is exclusive", ev(20), st(3), false},
		{"valid_from is inclusive", ev(10), st(3), true},
		{"before valid_from", ev(5), st(3), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, closed.Contains(tt.event, tt.stored))
		})
	}
}

func TestLive(t *testing.T) {
	_, ok := Live[label](nil)
	assert.False(t, ok)

	history := []Record[label]{
		{ID: 1, Value: "A", ValidFrom: ev(10), ValidUntil: ptr(ev(20)), StoredFrom: st(1), StoredUntil: ptr(st(2))},
		{ID: 2, Value: "B", ValidFrom: ev(20), StoredFrom: st(2)},
	}
	live, ok := Live(history)
	require.True(t, ok)
	assert.Equal(t, int64(2), live.ID)
}

func TestAsOfReproducesPastBelief(t *testing.T) {
	var history []Record[label]

	plan, err := Apply(history, label("A"), ev(10), st(1))
	require.NoError(t, err)
	history = apply(history, plan)

	plan, err = Apply(history, label("B"), ev(20), st(2))
	require.NoError(t, err)
	history = apply(history, plan)

	plan, err = Apply(history, label("C"), ev(15), st(3))
	require.NoError(t, err)
	history = apply(history, plan)

	tests := []struct {
		name   string
		event  time.Time
		stored time.Time
		want   label
		found  bool
	}{
		{"nothing known yet", ev(25), st(0), "", false},
		{"first belief is open ended", ev(25), st(1), "A", true},
		{"superseded belief", ev(17), st(2), "A", true},
		{"current belief after correction", ev(17), st(3), "C", true},
		{"later segment", ev(25), st(2), "B", true},
		{"before first valid time", ev(5), st(3), "", false},
		{"preceding segment keeps its value", ev(12), st(3), "A", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, ok := AsOf(history, tt.event, tt.stored)
			assert.Equal(t, tt.found, ok)
			if tt.found {
				assert.Equal(t, tt.want, r.Value)
			}
		})
	}
}

func TestAsOfTombstoneHidesOlderRows(t *testing.T) {
	history := []Record[label]{
		{ID: 1, Value: "A", ValidFrom: ev(10), ValidUntil: ptr(ev(10)), StoredFrom: st(1), StoredUntil: ptr(st(2))},
		{ID: 2, Tombstone: true, ValidFrom: ev(10), StoredFrom: st(2), StoredUntil: ptr(st(2))},
	}

	_, ok := AsOf(history, ev(15), st(3))
	assert.False(t, ok)

	r, ok := AsOf(history, ev(15), st(1))
	require.True(t, ok)
	assert.Equal(t, label("A"), r.Value)
}
