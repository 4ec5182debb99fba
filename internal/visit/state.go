package visit

import (
	"context"
	"slices"
	"strings"

	"github.com/roach88/admitlog/internal/ir"
	"github.com/roach88/admitlog/internal/store"
	"github.com/roach88/admitlog/internal/temporal"
)

// Location is the current belief about one location visit.
type Location struct {
	Key string
	ir.LocationVisit
}

// State is the current belief about an encounter.
type State struct {
	Key       string
	Owner     string
	Visit     ir.HospitalVisit
	Locations []Location
}

// Open returns the open location visit, if any.
func (s State) Open() (Location, bool) {
	for _, l := range s.Locations {
		if l.IsOpen() {
			return l, true
		}
	}
	return Location{}, false
}

// Load reads the current state of encounter. It fails with a
// NotFoundError when the encounter does not exist or was cancelled.
func Load(ctx context.Context, tx *store.Tx, encounter string) (State, error) {
	history, err := store.LoadHistory[ir.HospitalVisit](ctx, tx, ir.EntityVisit, encounter)
	if err != nil {
		return State{}, err
	}
	live, ok := temporal.Live(history)
	if !ok || live.Tombstone {
		return State{}, ir.NewNotFoundError("encounter", encounter)
	}

	state := State{Key: encounter, Visit: live.Value}
	owner, ok, err := tx.Owner(ctx, ir.EntityVisit, encounter)
	if err != nil {
		return State{}, err
	}
	if ok {
		state.Owner = owner
	}

	keys, err := tx.EntityKeys(ctx, ir.EntityLocationVisit, encounter)
	if err != nil {
		return State{}, err
	}
	for _, k := range keys {
		history, err := store.LoadHistory[ir.LocationVisit](ctx, tx, ir.EntityLocationVisit, k)
		if err != nil {
			return State{}, err
		}
		live, ok := temporal.Live(history)
		if !ok || live.Tombstone {
			continue
		}
		state.Locations = append(state.Locations, Location{Key: k, LocationVisit: live.Value})
	}
	slices.SortFunc(state.Locations, func(a, b Location) int {
		if c := a.AdmissionTime.Compare(b.AdmissionTime); c != 0 {
			return c
		}
		// An implied visit is entered before the visit that implied it.
		if a.Implied != b.Implied {
			if a.Implied {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Key, b.Key)
	})
	return state, nil
}
