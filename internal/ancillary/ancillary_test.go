package ancillary

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
	"github.com/roach88/admitlog/internal/temporal"
)

var base = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func at(n int) time.Time { return base.Add(time.Duration(n) * time.Minute) }

func hours(n int) time.Time { return base.Add(time.Duration(n) * time.Hour) }

func setup(t *testing.T) (*store.Store, *Handler) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, New(WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func info(n int, family string) ir.UpdatePatientInfo {
	return ir.UpdatePatientInfo{
		Header:       ir.Header{PatientKey: "MRN-1", EventTime: at(n)},
		Demographics: ir.Demographics{GivenName: "Ada", FamilyName: family},
	}
}

func infection(n int, status string) ir.PatientInfection {
	return ir.PatientInfection{
		Header:    ir.Header{PatientKey: "MRN-1", EventTime: at(n)},
		Condition: ir.Condition{Code: "MRSA", Status: status, AddedTime: at(5)},
	}
}

func TestUpdateDemographics(t *testing.T) {
	s, h := setup(t)
	ctx := context.Background()

	steps := []struct {
		name    string
		event   ir.UpdatePatientInfo
		want    temporal.Outcome
		wantErr func(error) bool
	}{
		{"first", info(10, "Byron"), temporal.Created, nil},
		{"resend", info(10, "Byron"), temporal.NoOp, nil},
		{"change", info(20, "Lovelace"), temporal.Superseded, nil},
		{"late arrival", info(15, "King"), temporal.RetroactiveInsert, nil},
		{"conflict at same time", info(20, "Other"), "", ir.IsInconsistency},
	}
	for i, step := range steps {
		t.Run(step.name, func(t *testing.T) {
			var outcome temporal.Outcome
			err := s.Update(ctx, func(tx *store.Tx) error {
				var err error
				outcome, err = h.UpdateDemographics(ctx, tx, "MRN-1", step.event, hours(i+1))
				return err
			})
			if step.wantErr != nil {
				require.Error(t, err)
				assert.True(t, step.wantErr(err), "unexpected error: %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, step.want, outcome)
		})
	}

	require.NoError(t, s.View(ctx, func(tx *store.Tx) error {
		d, ok, err := Demographics(ctx, tx, "MRN-1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "Lovelace", d.FamilyName)

		history, err := store.LoadHistory[ir.Demographics](ctx, tx, ir.EntityDemographics, "MRN-1")
		require.NoError(t, err)
		rec, ok := temporal.AsOf(history, at(17), hours(10))
		require.True(t, ok)
		assert.Equal(t, "King", rec.Value.FamilyName)

		rec, ok = temporal.AsOf(history, at(17), hours(2))
		require.True(t, ok)
		assert.Equal(t, "Byron", rec.Value.FamilyName)
		return nil
	}))
}

func TestRecordCondition(t *testing.T) {
	s, h := setup(t)
	ctx := context.Background()

	record := func(ev ir.PatientInfection, owner string, hour int) temporal.Outcome {
		var outcome temporal.Outcome
		require.NoError(t, s.Update(ctx, func(tx *store.Tx) error {
			var err error
			outcome, err = h.RecordCondition(ctx, tx, owner, ev, hours(hour))
			return err
		}))
		return outcome
	}

	assert.Equal(t, temporal.Created, record(infection(10, "active"), "MRN-1", 1))
	assert.Equal(t, temporal.Superseded, record(infection(20, "resolved"), "MRN-1", 2))

	// After a merge the condition is found under the survivor.
	require.NoError(t, s.Update(ctx, func(tx *store.Tx) error {
		_, err := tx.Reparent(ctx, "MRN-1", "MRN-2")
		return err
	}))
	assert.Equal(t, temporal.NoOp, record(infection(30, "resolved"), "MRN-2", 3))

	require.NoError(t, s.View(ctx, func(tx *store.Tx) error {
		conditions, err := Conditions(ctx, tx, "MRN-2")
		require.NoError(t, err)
		require.Len(t, conditions, 1)
		assert.Equal(t, "resolved", conditions[0].Status)

		conditions, err = Conditions(ctx, tx, "MRN-1")
		require.NoError(t, err)
		assert.Empty(t, conditions)
		return nil
	}))
}

func TestRecordConditionWithoutCode(t *testing.T) {
	s, h := setup(t)
	ctx := context.Background()
	ev := infection(10, "active")
	ev.Code = ""
	err := s.Update(ctx, func(tx *store.Tx) error {
		_, err := h.RecordCondition(ctx, tx, "MRN-1", ev, hours(1))
		return err
	})
	assert.True(t, ir.IsInconsistency(err))
}

func TestDeletePerson(t *testing.T) {
	s, h := setup(t)
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, func(tx *store.Tx) error {
		if _, err := h.UpdateDemographics(ctx, tx, "MRN-1", info(10, "Byron"), hours(1)); err != nil {
			return err
		}
		_, err := h.RecordCondition(ctx, tx, "MRN-1", infection(10, "active"), hours(1))
		return err
	}))

	del := ir.DeletePersonInformation{Header: ir.Header{PatientKey: "MRN-1", EventTime: at(40)}}
	deleteAt := func(hour int) int {
		var n int
		require.NoError(t, s.Update(ctx, func(tx *store.Tx) error {
			var err error
			n, err = h.DeletePerson(ctx, tx, "MRN-1", del, hours(hour))
			return err
		}))
		return n
	}
	assert.Equal(t, 2, deleteAt(2))
	assert.Equal(t, 0, deleteAt(3))

	require.NoError(t, s.View(ctx, func(tx *store.Tx) error {
		_, ok, err := Demographics(ctx, tx, "MRN-1")
		require.NoError(t, err)
		assert.False(t, ok)

		conditions, err := Conditions(ctx, tx, "MRN-1")
		require.NoError(t, err)
		assert.Empty(t, conditions)

		// The demographics remain readable before the deletion.
		history, err := store.LoadHistory[ir.Demographics](ctx, tx, ir.EntityDemographics, "MRN-1")
		require.NoError(t, err)
		rec, ok := temporal.AsOf(history, at(20), hours(5))
		require.True(t, ok)
		assert.Equal(t, "Byron", rec.Value.FamilyName)

		_, ok = temporal.AsOf(history, at(50), hours(5))
		assert.False(t, ok)
		return nil
	}))
}

func TestDeletePersonEndsMergedDemographics(t *testing.T) {
	s, h := setup(t)
	ctx := context.Background()

	retired := info(10, "King")
	retired.PatientKey = "MRN-2"
	require.NoError(t, s.Update(ctx, func(tx *store.Tx) error {
		if _, err := h.UpdateDemographics(ctx, tx, "MRN-1", info(10, "Byron"), hours(1)); err != nil {
			return err
		}
		if _, err := h.UpdateDemographics(ctx, tx, "MRN-2", retired, hours(1)); err != nil {
			return err
		}
		_, err := tx.Reparent(ctx, "MRN-2", "MRN-1")
		return err
	}))

	var n int
	del := ir.DeletePersonInformation{Header: ir.Header{PatientKey: "MRN-1", EventTime: at(40)}}
	require.NoError(t, s.Update(ctx, func(tx *store.Tx) error {
		var err error
		n, err = h.DeletePerson(ctx, tx, "MRN-1", del, hours(2))
		return err
	}))
	assert.Equal(t, 2, n)

	require.NoError(t, s.View(ctx, func(tx *store.Tx) error {
		for _, key := range []string{"MRN-1", "MRN-2"} {
			_, ok, err := Demographics(ctx, tx, key)
			require.NoError(t, err)
			assert.False(t, ok, key)
		}
		return nil
	}))
}
