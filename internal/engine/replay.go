package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/admitlog/internal/guard"
	"github.com/roach88/admitlog/internal/store"
)

// ReplayReport compares a store with a rebuild of its applied log.
type ReplayReport struct {
	Events  int `json:"events"`
	Applied int `json:"applied"`
	Ignored int `json:"ignored"`
	Failed  int `json:"failed"`

	SourceHash string `json:"source_hash"`
	ReplayHash string `json:"replay_hash"`

	// Failures holds the results of events that did not apply again.
	Failures []Result `json:"failures,omitempty"`
}

// Match reports whether the rebuild reached the same believed state.
func (r ReplayReport) Match() bool {
	return r.SourceHash == r.ReplayHash && r.Failed == 0
}

// replayClock plays back the original processing times. Replay is
// sequential, so the field needs no synchronization.
type replayClock struct {
	at time.Time
}

func (c *replayClock) now() time.Time { return c.at }

// Replay re-applies the applied-event log of src to the empty store dst,
// one event at a time in original application order and at the original
// processing times, then compares the snapshot hashes of both stores.
//
// Every replayed event runs through the normal ProcessEvent path, so a
// matching hash shows the believed state is a function of the log.
func Replay(ctx context.Context, src, dst *store.Store, opts ...Option) (ReplayReport, error) {
	var (
		report ReplayReport
		log    []store.AppliedEvent
	)
	err := src.View(ctx, func(tx *store.Tx) error {
		var err error
		if log, err = tx.AllAppliedEvents(ctx); err != nil {
			return err
		}
		report.SourceHash, err = tx.SnapshotHash(ctx)
		return err
	})
	if err != nil {
		return ReplayReport{}, err
	}

	rc := &replayClock{}
	opts = append(opts, WithClock(NewClock(rc.now)), WithWorkers(1))
	eng := New(dst, opts...)

	for _, applied := range log {
		ev, err := applied.Event()
		if err != nil {
			return ReplayReport{}, fmt.Errorf("replay seq %d: %w", applied.Seq, err)
		}
		// Copies recorded in the scopes of other subjects are written
		// again when the event itself replays.
		if applied.Scope != guard.Scope(ev) {
			continue
		}
		rc.at = applied.StoredAt

		res := eng.ProcessEvent(ctx, ev)
		res.Seq = int(applied.Seq)
		report.Events++
		switch res.Status {
		case StatusApplied:
			report.Applied++
		case StatusIgnored:
			report.Ignored++
		default:
			report.Failed++
			report.Failures = append(report.Failures, res)
		}
		if err := ctx.Err(); err != nil {
			return ReplayReport{}, err
		}
	}

	err = dst.View(ctx, func(tx *store.Tx) error {
		var err error
		report.ReplayHash, err = tx.SnapshotHash(ctx)
		return err
	})
	if err != nil {
		return ReplayReport{}, err
	}

	eng.logger.Info("replay finished",
		"events", report.Events,
		"applied", report.Applied,
		"failed", report.Failed,
		"match", report.Match(),
	)
	return report, nil
}
