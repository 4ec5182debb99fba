package visit

import (
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/admitlog/internal/ir"
	"github.com/roach88/admitlog/internal/store"
	"github.com/roach88/admitlog/internal/temporal"
)

var base = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

// at returns base plus n minutes.
func at(n int) time.Time { return base.Add(time.Duration(n) * time.Minute) }

func hours(n int) time.Time { return base.Add(time.Duration(n) * time.Hour) }

func header(n int) ir.Header {
	return ir.Header{PatientKey: "MRN-1", EncounterKey: "ENC-1", EventTime: at(n), RecordedTime: at(n)}
}

func admitAt(loc string, n int) ir.Admit {
	return ir.Admit{Header: header(n), Location: loc}
}

func transferAt(loc string, n int) ir.Transfer {
	return ir.Transfer{Header: header(n), Location: loc}
}

func dischargeAt(n int) ir.Discharge {
	return ir.Discharge{Header: header(n), Disposition: "home"}
}

func deleteAt(n int) ir.DeletePersonInformation {
	return ir.DeletePersonInformation{Header: ir.Header{PatientKey: "MRN-1", EventTime: at(n), RecordedTime: at(n)}}
}

// applied wraps events as applied log rows in arrival order.
func applied(t *testing.T, events ...ir.Event) []store.AppliedEvent {
	t.Helper()
	out := make([]store.AppliedEvent, 0, len(events))
	for i, ev := range events {
		payload, err := ir.EncodeEvent(ev)
		require.NoError(t, err)
		out = append(out, store.AppliedEvent{
			Seq:          int64(i + 1),
			Fingerprint:  ir.MustFingerprint(ev),
			Kind:         ev.Kind(),
			EventTime:    ev.Meta().EventTime,
			RecordedTime: ev.Meta().RecordedTime,
			Payload:      payload,
		})
	}
	return out
}

// fold orders and folds events with the last one as the current event.
func fold(t *testing.T, events ...ir.Event) (Desired, error) {
	t.Helper()
	entries, err := Order("ENC-1", applied(t, events...))
	if err != nil {
		return Desired{}, err
	}
	return Fold("ENC-1", entries, ir.MustFingerprint(events[len(events)-1]))
}

func last[E any](versions []temporal.Version[E]) E {
	return versions[len(versions)-1].Value
}

// finalLocations returns the final value of every location timeline in
// admission order.
func finalLocations(d Desired) []ir.LocationVisit {
	var out []ir.LocationVisit
	for _, versions := range d.Locations {
		out = append(out, last(versions))
	}
	slices.SortFunc(out, func(a, b ir.LocationVisit) int {
		if c := a.AdmissionTime.Compare(b.AdmissionTime); c != 0 {
			return c
		}
		if a.Implied != b.Implied {
			if a.Implied {
				return -1
			}
			return 1
		}
		return 0
	})
	return out
}

func openCount(locs []ir.LocationVisit) int {
	n := 0
	for _, l := range locs {
		if l.IsOpen() {
			n++
		}
	}
	return n
}
