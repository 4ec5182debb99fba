package engine

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/admitlog/internal/ir"
	"github.com/roach88/admitlog/internal/store"
)

var (
	base = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	// processingBase is the wall clock of test engines, a day after the
	// events they process.
	processingBase = base.Add(24 * time.Hour)

	discard = slog.New(slog.NewTextHandler(io.Discard, nil))
)

// at returns base plus n minutes.
func at(n int) time.Time { return base.Add(time.Duration(n) * time.Minute) }

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestEngine(t *testing.T, s *store.Store, opts ...Option) *Engine {
	t.Helper()
	defaults := []Option{
		WithLogger(discard),
		WithClock(NewClock(fixedNow(processingBase))),
		WithIDGenerator(NewSequenceGenerator("evt")),
	}
	return New(s, append(defaults, opts...)...)
}

func headerFor(patient, enc string, n int) ir.Header {
	return ir.Header{PatientKey: patient, EncounterKey: enc, EventTime: at(n), RecordedTime: at(n)}
}

func admitAt(enc string, n int) ir.Admit {
	return ir.Admit{Header: headerFor("MRN-1", enc, n), Location: "ward-1"}
}

func transferAt(enc, loc string, n int) ir.Transfer {
	return ir.Transfer{Header: headerFor("MRN-1", enc, n), Location: loc}
}

func dischargeAt(enc string, n int) ir.Discharge {
	return ir.Discharge{Header: headerFor("MRN-1", enc, n), Disposition: "home"}
}

func infoAt(patient string, n int, family string) ir.UpdatePatientInfo {
	return ir.UpdatePatientInfo{
		Header:       headerFor(patient, "", n),
		Demographics: ir.Demographics{GivenName: "Ada", FamilyName: family},
	}
}

func mergeAt(surviving, retired string, n int) ir.MergePatient {
	return ir.MergePatient{Header: headerFor(surviving, "", n), RetiredKey: retired}
}

// forPatient rewrites the patient key of a movement.
func forPatient[E interface{ ir.Admit | ir.Transfer | ir.Discharge }](ev E, patient string) ir.Event {
	switch v := any(ev).(type) {
	case ir.Admit:
		v.PatientKey = patient
		return v
	case ir.Transfer:
		v.PatientKey = patient
		return v
	case ir.Discharge:
		v.PatientKey = patient
		return v
	}
	panic("unreachable")
}

func changeKinds(changes []Change) []string {
	out := make([]string, 0, len(changes))
	for _, c := range changes {
		out = append(out, c.EntityType+":"+c.Outcome)
	}
	return out
}
