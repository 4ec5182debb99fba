package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/admitlog/internal/ir"
	"github.com/roach88/admitlog/internal/temporal"
)

// HasApplied reports whether an event with fingerprint was already
// applied within scope.
func (t *Tx) HasApplied(ctx context.Context, scope, fingerprint string) (bool, error) {
	var n int
	err := t.queryRow(ctx, `
		SELECT COUNT(*) FROM applied_events WHERE scope_key = ? AND fingerprint = ?
	`, scope, fingerprint).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check applied %s: %w", fingerprint, mapError(err))
	}
	return n > 0, nil
}

// AppliedEvents returns the applied events of one scope in arrival order.
func (t *Tx) AppliedEvents(ctx context.Context, scope string) ([]AppliedEvent, error) {
	rows, err := t.query(ctx, `
		SELECT seq, scope_key, fingerprint, kind, event_time, recorded_time, payload, stored_at
		FROM applied_events
		WHERE scope_key = ?
		ORDER BY seq ASC
	`, scope)
	if err != nil {
		return nil, fmt.Errorf("query applied events of %s: %w", scope, err)
	}
	return collect(rows, "applied events", scanApplied)
}

// AllAppliedEvents returns every applied event in arrival order.
// Used by replay to re-process a store from scratch.
func (t *Tx) AllAppliedEvents(ctx context.Context) ([]AppliedEvent, error) {
	rows, err := t.query(ctx, `
		SELECT seq, scope_key, fingerprint, kind, event_time, recorded_time, payload, stored_at
		FROM applied_events
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query applied events: %w", err)
	}
	return collect(rows, "applied events", scanApplied)
}

func scanApplied(rows *sql.Rows) (AppliedEvent, error) {
	var (
		a                                 AppliedEvent
		kind, payload                     string
		eventTime, recordedTime, storedAt int64
	)
	if err := rows.Scan(&a.Seq, &a.Scope, &a.Fingerprint, &kind, &eventTime, &recordedTime, &payload, &storedAt); err != nil {
		return AppliedEvent{}, fmt.Errorf("scan applied event: %w", err)
	}
	a.Kind = ir.Kind(kind)
	a.EventTime = ir.FromMicros(eventTime)
	a.RecordedTime = ir.FromMicros(recordedTime)
	a.Payload = []byte(payload)
	a.StoredAt = ir.FromMicros(storedAt)
	return a, nil
}

// Snapshot returns the current belief of the whole store as a canonical
// value: the believed valid-time timeline of every entity, entity owners
// and known identities. Entities whose timeline is empty are left out. Processing times are excluded, so two stores that
// processed the same events at different wall-clock times compare equal.
func (t *Tx) Snapshot(ctx context.Context) (ir.Object, error) {
	entities, err := t.Entities(ctx)
	if err != nil {
		return nil, err
	}

	timelines := ir.Object{}
	owners := ir.Object{}
	for _, e := range entities {
		history, err := LoadHistory[Raw](ctx, t, e.Type, e.Key)
		if err != nil {
			return nil, err
		}
		var segments ir.Array
		for _, v := range temporal.Believed(history) {
			seg := ir.Object{"valid_from": ir.Int(v.ValidFrom.UnixMicro())}
			if v.Absent {
				seg["absent"] = ir.Bool(true)
			} else {
				seg["value"] = ir.String(v.Value)
			}
			segments = append(segments, seg)
		}
		if len(segments) == 0 {
			continue
		}
		timelines[e.String()] = segments

		owner, ok, err := t.Owner(ctx, e.Type, e.Key)
		if err != nil {
			return nil, err
		}
		if ok {
			owners[e.String()] = ir.String(owner)
		}
	}

	keys, err := t.Identities(ctx)
	if err != nil {
		return nil, err
	}
	identities := make(ir.Array, 0, len(keys))
	for _, k := range keys {
		identities = append(identities, ir.String(k))
	}

	return ir.Object{
		"timelines":  timelines,
		"owners":     owners,
		"identities": identities,
	}, nil
}

// SnapshotHash hashes Snapshot.
func (t *Tx) SnapshotHash(ctx context.Context) (string, error) {
	snap, err := t.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	return ir.SnapshotHash(snap)
}
