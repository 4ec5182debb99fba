package temporal

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/admitlog/internal/ir"
)

// seed builds the history A@10 superseded by B@20.
func seed(t *testing.T) []Record[label] {
	t.Helper()
	var history []Record[label]
	for i, step := range []struct {
		value label
		at    int
	}{{"A", 10}, {"B", 20}} {
		plan, err := Apply(history, step.value, ev(step.at), st(i+1))
		require.NoError(t, err)
		history = apply(history, plan)
	}
	return history
}

func requireTimeline(t *testing.T, want, got []Version[label]) {
	t.Helper()
	require.Len(t, got, len(want), "timeline: %s", describe(got))
	for i := range want {
		assert.True(t, sameVersion(want[i], got[i]), "segment %d: want %s, got %s", i, describe(want), describe(got))
	}
}

func describe(vs []Version[label]) string {
	s := ""
	for _, v := range vs {
		if v.Absent {
			s += fmt.Sprintf("[gap@%s]", v.ValidFrom.Format("15:04"))
		} else {
			s += fmt.Sprintf("[%s@%s]", v.Value, v.ValidFrom.Format("15:04"))
		}
	}
	return s
}

func TestApplyCreated(t *testing.T) {
	plan, err := Apply(nil, label("A"), ev(10), st(1))
	require.NoError(t, err)

	assert.Equal(t, Created, plan.Outcome)
	assert.Empty(t, plan.Closed)
	require.Len(t, plan.Inserts, 1)
	assert.True(t, plan.Inserts[0].IsLive())
	assert.Equal(t, ev(10), plan.Inserts[0].ValidFrom)
	assert.Equal(t, st(1), plan.Inserts[0].StoredFrom)
	assert.Nil(t, plan.Inserts[0].ValidUntil)
}

func TestApplySuperseded(t *testing.T) {
	history := seed(t)

	require.Len(t, history, 2)
	assert.Equal(t, 1, liveCount(history))

	first := history[0]
	require.NotNil(t, first.StoredUntil)
	assert.Equal(t, ev(20), *first.ValidUntil)
	assert.Equal(t, st(2), *first.StoredUntil)
	assert.Equal(t, label("A"), first.Value, "closing keeps the value")

	requireTimeline(t, []Version[label]{At(ev(10), label("A")), At(ev(20), label("B"))}, Believed(history))
}

func TestApplyNoOp(t *testing.T) {
	history := seed(t)

	tests := []struct {
		name  string
		value label
		at    time.Time
	}{
		{"equal to live later", "B", ev(40)},
		{"equal to live earlier", "B", ev(15)},
		{"same segment start and value", "A", ev(10)},
		{"already believed at that time", "A", ev(15)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := Apply(history, tt.value, tt.at, st(5))
			require.NoError(t, err)
			assert.Equal(t, NoOp, plan.Outcome)
			assert.False(t, plan.Changed())
		})
	}
}

func TestApplyInconsistency(t *testing.T) {
	history := seed(t)

	for _, at := range []time.Time{ev(10), ev(20)} {
		_, err := Apply(history, label("C"), at, st(5))
		require.Error(t, err)
		assert.True(t, ir.IsInconsistency(err))
	}
}

func TestApplyRetroactiveInsert(t *testing.T) {
	history := seed(t)
	live, _ := Live(history)

	plan, err := Apply(history, label("C"), ev(15), st(3))
	require.NoError(t, err)

	assert.Equal(t, RetroactiveInsert, plan.Outcome)
	assert.Empty(t, plan.Closed, "live row is untouched")
	require.Len(t, plan.Inserts, 2)

	corrected := plan.Inserts[0]
	assert.Equal(t, label("A"), corrected.Value)
	assert.Equal(t, ev(10), corrected.ValidFrom)
	assert.Equal(t, ev(15), *corrected.ValidUntil)

	inserted := plan.Inserts[1]
	assert.Equal(t, label("C"), inserted.Value)
	assert.Equal(t, ev(15), inserted.ValidFrom)
	assert.Equal(t, ev(20), *inserted.ValidUntil)
	assert.False(t, inserted.IsLive())

	history = apply(history, plan)
	after, _ := Live(history)
	assert.Equal(t, live, after)
	assert.Equal(t, 1, liveCount(history))
	requireTimeline(t, []Version[label]{
		At(ev(10), label("A")),
		At(ev(15), label("C")),
		At(ev(20), label("B")),
	}, Believed(history))
}

func TestApplyRetroactiveBeforeFirstSegment(t *testing.T) {
	history := seed(t)

	plan, err := Apply(history, label("Z"), ev(5), st(3))
	require.NoError(t, err)
	assert.Equal(t, RetroactiveInsert, plan.Outcome)
	require.Len(t, plan.Inserts, 1)

	history = apply(history, plan)
	requireTimeline(t, []Version[label]{
		At(ev(5), label("Z")),
		At(ev(10), label("A")),
		At(ev(20), label("B")),
	}, Believed(history))
}

func TestApplyClampsProcessingTime(t *testing.T) {
	history := seed(t)

	plan, err := Apply(history, label("C"), ev(30), st(1))
	require.NoError(t, err)
	assert.Equal(t, Superseded, plan.Outcome)
	require.Len(t, plan.Inserts, 1)
	assert.Equal(t, st(2), plan.Inserts[0].StoredFrom)
	assert.Equal(t, st(2), *plan.Closed[0].StoredUntil)
}

func TestApplyAfterRemoval(t *testing.T) {
	history := seed(t)

	plan, err := Sync(history, []Version[label]{
		At(ev(10), label("A")),
		At(ev(20), label("B")),
		Gap[label](ev(30)),
	}, st(3))
	require.NoError(t, err)
	assert.Equal(t, Removed, plan.Outcome)
	history = apply(history, plan)
	assert.Equal(t, 0, liveCount(history))

	plan, err = Apply(history, label("C"), ev(25), st(4))
	require.NoError(t, err)
	assert.Equal(t, RetroactiveInsert, plan.Outcome)
	history = apply(history, plan)

	plan, err = Apply(history, label("D"), ev(40), st(5))
	require.NoError(t, err)
	assert.Equal(t, Created, plan.Outcome)
	history = apply(history, plan)

	requireTimeline(t, []Version[label]{
		At(ev(10), label("A")),
		At(ev(20), label("B")),
		At(ev(25), label("C")),
		Gap[label](ev(30)),
		At(ev(40), label("D")),
	}, Believed(history))
}

func TestSyncNoOp(t *testing.T) {
	history := seed(t)

	plan, err := Sync(history, []Version[label]{
		At(ev(20), label("B")),
		At(ev(10), label("A")),
		At(ev(30), label("B")),
	}, st(3))
	require.NoError(t, err)
	assert.Equal(t, NoOp, plan.Outcome)
	assert.False(t, plan.Changed())
}

func TestSyncRewrite(t *testing.T) {
	history := seed(t)

	plan, err := Sync(history, []Version[label]{
		At(ev(10), label("A")),
		At(ev(30), label("C")),
	}, st(3))
	require.NoError(t, err)

	assert.Equal(t, Rewritten, plan.Outcome)
	require.Len(t, plan.Closed, 1)
	assert.True(t, plan.Closed[0].IsRetracted())

	history = apply(history, plan)
	assert.Equal(t, 1, liveCount(history))
	requireTimeline(t, []Version[label]{At(ev(10), label("A")), At(ev(30), label("C"))}, Believed(history))

	r, ok := AsOf(history, ev(25), st(2))
	require.True(t, ok)
	assert.Equal(t, label("B"), r.Value, "past belief survives the rewrite")

	r, ok = AsOf(history, ev(25), st(3))
	require.True(t, ok)
	assert.Equal(t, label("A"), r.Value)
}

func TestSyncRemoveAll(t *testing.T) {
	history := seed(t)

	plan, err := Sync(history, nil, st(3))
	require.NoError(t, err)
	assert.Equal(t, Removed, plan.Outcome)

	history = apply(history, plan)
	assert.Equal(t, 0, liveCount(history))
	assert.Empty(t, Believed(history))

	_, ok := AsOf(history, ev(25), st(3))
	assert.False(t, ok)
	_, ok = AsOf(history, ev(25), st(2))
	assert.True(t, ok)
}

func TestSyncGapDoesNotUnhideOlderRows(t *testing.T) {
	history := seed(t)

	plan, err := Sync(history, []Version[label]{At(ev(10), label("A")), At(ev(15), label("C"))}, st(3))
	require.NoError(t, err)
	history = apply(history, plan)

	desired := []Version[label]{
		At(ev(10), label("A")),
		At(ev(15), label("C")),
		Gap[label](ev(18)),
		At(ev(30), label("D")),
	}
	plan, err = Sync(history, desired, st(4))
	require.NoError(t, err)
	assert.Equal(t, Superseded, plan.Outcome)

	history = apply(history, plan)
	requireTimeline(t, desired, Believed(history))
}

func TestSyncLeadingCorrection(t *testing.T) {
	history := seed(t)

	desired := []Version[label]{At(ev(12), label("A")), At(ev(20), label("B"))}
	plan, err := Sync(history, desired, st(3))
	require.NoError(t, err)
	assert.Equal(t, Rewritten, plan.Outcome)

	history = apply(history, plan)
	requireTimeline(t, desired, Believed(history))
	_, ok := AsOf(history, ev(11), st(3))
	assert.False(t, ok)
}

func TestBelievedAt(t *testing.T) {
	history := seed(t)

	assert.Empty(t, BelievedAt(history, st(0)))
	requireTimeline(t, []Version[label]{At(ev(10), label("A"))}, BelievedAt(history, st(1)))
	requireTimeline(t, Believed(history), BelievedAt(history, st(2)))
}

func TestNormalize(t *testing.T) {
	got := normalize([]Version[label]{
		Gap[label](ev(0)),
		At(ev(20), label("B")),
		At(ev(10), label("A")),
		At(ev(10), label("A2")),
		At(ev(15), label("A2")),
		Gap[label](ev(30)),
		Gap[label](ev(40)),
	})

	requireTimeline(t, []Version[label]{
		At(ev(10), label("A2")),
		At(ev(20), label("B")),
		Gap[label](ev(30)),
	}, got)
}

// TestSyncRandomTimelines checks that any sequence of syncs leaves the
// believed timeline equal to the last desired one, keeps a single live row
// and reproduces every earlier belief through BelievedAt.
func TestSyncRandomTimelines(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	values := []label{"A", "B", "C"}

	for run := 0; run < 200; run++ {
		var (
			history []Record[label]
			beliefs [][]Version[label]
		)
		for round := 1; round <= 8; round++ {
			var desired []Version[label]
			for n := rng.IntN(5); n > 0; n-- {
				at := ev(rng.IntN(10) * 10)
				if rng.IntN(4) == 0 {
					desired = append(desired, Gap[label](at))
				} else {
					desired = append(desired, At(at, values[rng.IntN(len(values))]))
				}
			}

			plan, err := Sync(history, desired, st(round))
			require.NoError(t, err)
			history = apply(history, plan)

			want := normalize(desired)
			requireTimeline(t, want, Believed(history))
			require.LessOrEqual(t, liveCount(history), 1)
			hasPresentTail := len(want) > 0 && !want[len(want)-1].Absent
			require.Equal(t, hasPresentTail, liveCount(history) == 1)
			beliefs = append(beliefs, want)
		}
		for i, want := range beliefs {
			requireTimeline(t, want, BelievedAt(history, st(i+1)))
		}
	}
}

func TestPlanApplyToAssignsIDs(t *testing.T) {
	plan, err := Apply(nil, label("A"), ev(10), st(1))
	require.NoError(t, err)

	out, next := plan.ApplyTo(nil, 41)
	require.Len(t, out, 1)
	assert.Equal(t, int64(41), out[0].ID)
	assert.Equal(t, int64(42), next)
}
