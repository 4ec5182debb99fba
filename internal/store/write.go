package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/admitlog/internal/ir"
	"github.com/roach88/admitlog/internal/temporal"
)

// Entity addresses the rows of one versioned entity. Scope groups
// entities for listing: the encounter key for visits and location visits,
// the patient key for everything else.
type Entity struct {
	Type  string
	Key   string
	Scope string
}

func (e Entity) String() string { return e.Type + ":" + e.Key }

// ApplyPlan writes a versioning plan: live rows are closed first, then new
// rows are inserted in plan order so stored order follows the plan.
//
// Closing a row that is no longer live, or inserting a second live row,
// returns ErrConflict.
func ApplyPlan[E any](ctx context.Context, tx *Tx, entity Entity, plan temporal.Plan[E]) error {
	for _, r := range plan.Closed {
		res, err := tx.exec(ctx, `
			UPDATE temporal_rows
			SET valid_until = ?, stored_until = ?
			WHERE id = ? AND entity_type = ? AND entity_key = ? AND stored_until IS NULL
		`, nullMicros(r.ValidUntil), nullMicros(r.StoredUntil), r.ID, entity.Type, entity.Key)
		if err != nil {
			return fmt.Errorf("close row %d of %s: %w", r.ID, entity, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("close row %d of %s: %w", r.ID, entity, err)
		}
		if n != 1 {
			return fmt.Errorf("close row %d of %s: %w: row is no longer live", r.ID, entity, ErrConflict)
		}
	}

	for _, r := range plan.Inserts {
		var payload any
		if !r.Tombstone {
			text, err := encodePayload(r.Value)
			if err != nil {
				return fmt.Errorf("insert row for %s: %w", entity, err)
			}
			payload = text
		}
		_, err := tx.exec(ctx, `
			INSERT INTO temporal_rows
			(entity_type, entity_key, scope_key, payload, tombstone, valid_from, valid_until, stored_from, stored_until)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			entity.Type,
			entity.Key,
			entity.Scope,
			payload,
			r.Tombstone,
			micros(r.ValidFrom),
			nullMicros(r.ValidUntil),
			micros(r.StoredFrom),
			nullMicros(r.StoredUntil),
		)
		if err != nil {
			return fmt.Errorf("insert row for %s: %w", entity, err)
		}
	}
	return nil
}

// CreateIdentity records an external patient key. Creating a key that
// already exists is a no-op; it reports whether a row was inserted.
func (t *Tx) CreateIdentity(ctx context.Context, key string, firstSeen, at time.Time) (bool, error) {
	res, err := t.exec(ctx, `
		INSERT INTO identities (patient_key, first_seen, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(patient_key) DO NOTHING
	`, key, micros(firstSeen), micros(at))
	if err != nil {
		return false, fmt.Errorf("create identity %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create identity %s: %w", key, err)
	}
	return n == 1, nil
}

// MergeRecord is one entry of the append-only merge log.
type MergeRecord struct {
	ID int64

	// RetiredKey is the key named by the merge message; RetiredCanonical
	// is the identity it resolved to when the merge was applied.
	RetiredKey       string
	RetiredCanonical string
	SurvivingKey     string
	MergeTime        time.Time
	StoredAt         time.Time
}

// AppendMerge adds an entry to the merge log.
func (t *Tx) AppendMerge(ctx context.Context, m MergeRecord) error {
	_, err := t.exec(ctx, `
		INSERT INTO merge_log (retired_key, retired_canonical, surviving_key, merge_time, stored_at)
		VALUES (?, ?, ?, ?, ?)
	`, m.RetiredKey, m.RetiredCanonical, m.SurvivingKey, micros(m.MergeTime), micros(m.StoredAt))
	if err != nil {
		return fmt.Errorf("append merge %s -> %s: %w", m.RetiredKey, m.SurvivingKey, err)
	}
	return nil
}

// SetOwner assigns the owning identity of an entity on first sight.
// Later calls keep the existing owner; merges move ownership via Reparent.
func (t *Tx) SetOwner(ctx context.Context, entityType, key, owner string) error {
	_, err := t.exec(ctx, `
		INSERT INTO owners (entity_type, entity_key, owner_key)
		VALUES (?, ?, ?)
		ON CONFLICT(entity_type, entity_key) DO NOTHING
	`, entityType, key, owner)
	if err != nil {
		return fmt.Errorf("set owner of %s:%s: %w", entityType, key, err)
	}
	return nil
}

// MoveOwner reassigns the owner of one entity. It reports whether the
// entity had an owner to move.
func (t *Tx) MoveOwner(ctx context.Context, entityType, key, owner string) (bool, error) {
	res, err := t.exec(ctx, `
		UPDATE owners SET owner_key = ? WHERE entity_type = ? AND entity_key = ?
	`, owner, entityType, key)
	if err != nil {
		return false, fmt.Errorf("move owner of %s:%s: %w", entityType, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("move owner of %s:%s: %w", entityType, key, err)
	}
	return n == 1, nil
}

// Reparent moves everything owned by from to to and returns how many
// entities moved.
func (t *Tx) Reparent(ctx context.Context, from, to string) (int64, error) {
	res, err := t.exec(ctx, `
		UPDATE owners SET owner_key = ? WHERE owner_key = ?
	`, to, from)
	if err != nil {
		return 0, fmt.Errorf("reparent %s -> %s: %w", from, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reparent %s -> %s: %w", from, to, err)
	}
	return n, nil
}

// AppliedEvent is one durably applied event.
type AppliedEvent struct {
	Seq          int64
	Scope        string
	Fingerprint  string
	Kind         ir.Kind
	EventTime    time.Time
	RecordedTime time.Time
	Payload      []byte
	StoredAt     time.Time
}

// Event decodes the stored payload.
func (a AppliedEvent) Event() (ir.Event, error) {
	return ir.DecodeEvent(a.Payload)
}

// RecordApplied adds an event to the applied log. A second record with the
// same scope and fingerprint returns ErrConflict.
func (t *Tx) RecordApplied(ctx context.Context, a AppliedEvent) error {
	_, err := t.exec(ctx, `
		INSERT INTO applied_events
		(scope_key, fingerprint, kind, event_time, recorded_time, payload, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		a.Scope,
		a.Fingerprint,
		string(a.Kind),
		micros(a.EventTime),
		micros(a.RecordedTime),
		string(a.Payload),
		micros(a.StoredAt),
	)
	if err != nil {
		return fmt.Errorf("record applied event %s: %w", a.Fingerprint, err)
	}
	return nil
}
