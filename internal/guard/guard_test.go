package guard

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/admitlog/internal/ir"
	"github.com/roach88/admitlog/internal/store"
)

var base = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func admit() ir.Admit {
	return ir.Admit{
		Header: ir.Header{
			PatientKey:   "MRN-1",
			EncounterKey: "ENC-1",
			EventTime:    base,
			RecordedTime: base.Add(time.Minute),
		},
		Location: "ward-a",
	}
}

func TestScope(t *testing.T) {
	tests := []struct {
		name  string
		event ir.Event
		want  string
	}{
		{"movement", admit(), "encounter:ENC-1"},
		{"merge", ir.MergePatient{Header: ir.Header{PatientKey: "MRN-1"}, RetiredKey: "MRN-0"}, "patient:MRN-1"},
		{"demographics", ir.UpdatePatientInfo{Header: ir.Header{PatientKey: "MRN-2", EncounterKey: "ENC-9"}}, "patient:MRN-2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Scope(tt.event))
		})
	}
}

func TestCheckAndRecord(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	g := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ev := admit()
	fp := ir.MustFingerprint(ev)
	scope := Scope(ev)

	require.NoError(t, s.Update(ctx, func(tx *store.Tx) error {
		require.NoError(t, g.Check(ctx, tx, scope, fp))
		return g.Record(ctx, tx, ev, fp, base.Add(time.Hour))
	}))

	require.NoError(t, s.View(ctx, func(tx *store.Tx) error {
		err := g.Check(ctx, tx, scope, fp)
		require.Error(t, err)
		assert.True(t, ir.IsMessageIgnored(err))

		// A resend with a new recorded time is the same event.
		resent := ev
		resent.RecordedTime = base.Add(time.Hour)
		assert.True(t, ir.IsMessageIgnored(g.Check(ctx, tx, scope, ir.MustFingerprint(resent))))

		// The same fingerprint in another scope is not a duplicate.
		assert.NoError(t, g.Check(ctx, tx, EncounterScope("ENC-2"), fp))

		applied, err := tx.AppliedEvents(ctx, scope)
		require.NoError(t, err)
		require.Len(t, applied, 1)
		assert.Equal(t, ir.KindAdmit, applied[0].Kind)
		decoded, err := applied[0].Event()
		require.NoError(t, err)
		assert.Equal(t, ev, decoded)
		return nil
	}))
}

func TestRecordTwiceConflicts(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	g := New(nil)
	ev := admit()
	fp := ir.MustFingerprint(ev)

	require.NoError(t, s.Update(ctx, func(tx *store.Tx) error {
		return g.Record(ctx, tx, ev, fp, base)
	}))
	err = s.Update(ctx, func(tx *store.Tx) error {
		return g.Record(ctx, tx, ev, fp, base)
	})
	require.Error(t, err)
	assert.True(t, store.IsConflict(err))
}

func TestRecordIn(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	g := New(nil)
	ev := ir.DeletePersonInformation{Header: ir.Header{PatientKey: "MRN-1", EventTime: base}}
	fp := ir.MustFingerprint(ev)

	require.NoError(t, s.Update(ctx, func(tx *store.Tx) error {
		require.NoError(t, g.Record(ctx, tx, ev, fp, base))
		return g.RecordIn(ctx, tx, EncounterScope("ENC-1"), ev, fp, base)
	}))

	require.NoError(t, s.View(ctx, func(tx *store.Tx) error {
		applied, err := tx.AppliedEvents(ctx, EncounterScope("ENC-1"))
		require.NoError(t, err)
		require.Len(t, applied, 1)
		assert.Equal(t, ir.KindDeletePersonInformation, applied[0].Kind)
		assert.Equal(t, fp, applied[0].Fingerprint)

		assert.True(t, ir.IsMessageIgnored(g.Check(ctx, tx, Scope(ev), fp)))
		return nil
	}))
}
