package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/admitlog/internal/ir"
	"github.com/roach88/admitlog/internal/temporal"
)

var testBase = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func minutes(n int) time.Time { return testBase.Add(time.Duration(n) * time.Minute) }

func hours(n int) time.Time { return testBase.Add(time.Duration(n) * time.Hour) }

var testVisit = Entity{Type: ir.EntityLocationVisit, Key: "ENC-1/ward", Scope: "ENC-1"}

// applyFact versions one location fact and writes the plan.
func applyFact(t *testing.T, s *Store, loc ir.LocationVisit, at time.Time) temporal.Outcome {
	t.Helper()
	var outcome temporal.Outcome
	err := s.Update(context.Background(), func(tx *Tx) error {
		history, err := LoadHistory[ir.LocationVisit](context.Background(), tx, testVisit.Type, testVisit.Key)
		if err != nil {
			return err
		}
		plan, err := temporal.Apply(history, loc, loc.AdmissionTime, at)
		if err != nil {
			return err
		}
		outcome = plan.Outcome
		return ApplyPlan(context.Background(), tx, testVisit, plan)
	})
	if err != nil {
		t.Fatalf("applyFact() failed: %v", err)
	}
	return outcome
}

func applyAt(history []temporal.Record[ir.LocationVisit], fact ir.LocationVisit, eventTime, at time.Time) (temporal.Plan[ir.LocationVisit], error) {
	return temporal.Apply(history, fact, eventTime, at)
}
