package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/admitlog/internal/ir"
	"github.com/roach88/admitlog/internal/temporal"
)

// LoadHistory returns every row of an entity ordered by (stored_from, id).
// Returns an empty slice if the entity has no rows.
func LoadHistory[E any](ctx context.Context, tx *Tx, entityType, key string) ([]temporal.Record[E], error) {
	rows, err := tx.query(ctx, `
		SELECT id, entity_type, entity_key, payload, tombstone, valid_from, valid_until, stored_from, stored_until
		FROM temporal_rows
		WHERE entity_type = ? AND entity_key = ?
		ORDER BY stored_from ASC, id ASC
	`, entityType, key)
	if err != nil {
		return nil, fmt.Errorf("query history of %s:%s: %w", entityType, key, err)
	}

	history, err := collect(rows, "history", scanRecord[E])
	if err != nil {
		return nil, err
	}
	if history == nil {
		history = []temporal.Record[E]{}
	}
	return history, nil
}

// scanRecord scans a temporal_rows row into a Record.
func scanRecord[E any](rows *sql.Rows) (temporal.Record[E], error) {
	var (
		r                       temporal.Record[E]
		payload                 sql.NullString
		validFrom, storedFrom   int64
		validUntil, storedUntil sql.NullInt64
	)
	if err := rows.Scan(
		&r.ID, &r.EntityType, &r.EntityKey, &payload, &r.Tombstone,
		&validFrom, &validUntil, &storedFrom, &storedUntil,
	); err != nil {
		return temporal.Record[E]{}, fmt.Errorf("scan temporal row: %w", err)
	}

	value, err := decodePayload[E](payload)
	if err != nil {
		return temporal.Record[E]{}, fmt.Errorf("row %d: %w", r.ID, err)
	}
	r.Value = value
	r.ValidFrom = ir.FromMicros(validFrom)
	r.ValidUntil = fromNullMicros(validUntil)
	r.StoredFrom = ir.FromMicros(storedFrom)
	r.StoredUntil = fromNullMicros(storedUntil)
	return r, nil
}

// EntityKeys lists the keys of entities of one type within a scope.
func (t *Tx) EntityKeys(ctx context.Context, entityType, scope string) ([]string, error) {
	rows, err := t.query(ctx, `
		SELECT DISTINCT entity_key FROM temporal_rows
		WHERE entity_type = ? AND scope_key = ?
		ORDER BY entity_key
	`, entityType, scope)
	if err != nil {
		return nil, fmt.Errorf("list %s keys: %w", entityType, err)
	}
	return collect(rows, "entity keys", scanString)
}

// Entities lists every entity with at least one row, ordered by type and key.
func (t *Tx) Entities(ctx context.Context) ([]Entity, error) {
	rows, err := t.query(ctx, `
		SELECT entity_type, entity_key, MIN(scope_key) FROM temporal_rows
		GROUP BY entity_type, entity_key
		ORDER BY entity_type, entity_key
	`)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	return collect(rows, "entities", func(rows *sql.Rows) (Entity, error) {
		var e Entity
		if err := rows.Scan(&e.Type, &e.Key, &e.Scope); err != nil {
			return Entity{}, fmt.Errorf("scan entity: %w", err)
		}
		return e, nil
	})
}

// CountLive returns how many live rows an entity has. The schema keeps
// this at zero or one.
func (t *Tx) CountLive(ctx context.Context, entityType, key string) (int, error) {
	var n int
	err := t.queryRow(ctx, `
		SELECT COUNT(*) FROM temporal_rows
		WHERE entity_type = ? AND entity_key = ? AND stored_until IS NULL
	`, entityType, key).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count live rows: %w", mapError(err))
	}
	return n, nil
}

// IdentityExists reports whether an external patient key was ever seen.
func (t *Tx) IdentityExists(ctx context.Context, key string) (bool, error) {
	var n int
	err := t.queryRow(ctx, `
		SELECT COUNT(*) FROM identities WHERE patient_key = ?
	`, key).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("lookup identity %s: %w", key, mapError(err))
	}
	return n > 0, nil
}

// Identities lists every known patient key in order.
func (t *Tx) Identities(ctx context.Context) ([]string, error) {
	rows, err := t.query(ctx, `SELECT patient_key FROM identities ORDER BY patient_key`)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	return collect(rows, "identities", scanString)
}

// PointersTo lists identities whose live pointer currently targets key
// directly, including key itself when it is canonical.
func (t *Tx) PointersTo(ctx context.Context, key string) ([]string, error) {
	rows, err := t.query(ctx, `
		SELECT entity_key FROM temporal_rows
		WHERE entity_type = ?
		  AND stored_until IS NULL
		  AND tombstone = 0
		  AND json_extract(payload, '$.live_key') = ?
		ORDER BY entity_key
	`, ir.EntityLivePointer, key)
	if err != nil {
		return nil, fmt.Errorf("list pointers to %s: %w", key, err)
	}
	return collect(rows, "pointers", scanString)
}

// Merges returns merge log entries that name key as retired or surviving,
// in the order they were applied.
func (t *Tx) Merges(ctx context.Context, key string) ([]MergeRecord, error) {
	rows, err := t.query(ctx, `
		SELECT id, retired_key, retired_canonical, surviving_key, merge_time, stored_at
		FROM merge_log
		WHERE retired_key = ? OR retired_canonical = ? OR surviving_key = ?
		ORDER BY id
	`, key, key, key)
	if err != nil {
		return nil, fmt.Errorf("query merges of %s: %w", key, err)
	}
	return collect(rows, "merges", func(rows *sql.Rows) (MergeRecord, error) {
		var (
			m                   MergeRecord
			mergeTime, storedAt int64
		)
		if err := rows.Scan(&m.ID, &m.RetiredKey, &m.RetiredCanonical, &m.SurvivingKey, &mergeTime, &storedAt); err != nil {
			return MergeRecord{}, fmt.Errorf("scan merge: %w", err)
		}
		m.MergeTime = ir.FromMicros(mergeTime)
		m.StoredAt = ir.FromMicros(storedAt)
		return m, nil
	})
}

// Owner returns the owning identity of an entity.
func (t *Tx) Owner(ctx context.Context, entityType, key string) (string, bool, error) {
	var owner string
	err := t.queryRow(ctx, `
		SELECT owner_key FROM owners WHERE entity_type = ? AND entity_key = ?
	`, entityType, key).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup owner of %s:%s: %w", entityType, key, mapError(err))
	}
	return owner, true, nil
}

// Owned lists the keys of entities of one type owned by owner.
func (t *Tx) Owned(ctx context.Context, owner, entityType string) ([]string, error) {
	rows, err := t.query(ctx, `
		SELECT entity_key FROM owners
		WHERE owner_key = ? AND entity_type = ?
		ORDER BY entity_key
	`, owner, entityType)
	if err != nil {
		return nil, fmt.Errorf("list %s owned by %s: %w", entityType, owner, err)
	}
	return collect(rows, "owned entities", scanString)
}

// LastProcessingTime returns the newest processing timestamp written to
// the store, or the zero time for an empty store. The engine resumes its
// processing clock from here.
func (t *Tx) LastProcessingTime(ctx context.Context) (time.Time, error) {
	var last sql.NullInt64
	err := t.queryRow(ctx, `
		SELECT MAX(v) FROM (
			SELECT MAX(stored_from) AS v FROM temporal_rows
			UNION ALL SELECT MAX(stored_until) FROM temporal_rows
			UNION ALL SELECT MAX(stored_at) FROM applied_events
			UNION ALL SELECT MAX(stored_at) FROM merge_log
		)
	`).Scan(&last)
	if err != nil {
		return time.Time{}, fmt.Errorf("get last processing time: %w", mapError(err))
	}
	if !last.Valid {
		return time.Time{}, nil
	}
	return ir.FromMicros(last.Int64), nil
}

func scanString(rows *sql.Rows) (string, error) {
	var s string
	if err := rows.Scan(&s); err != nil {
		return "", fmt.Errorf("scan: %w", err)
	}
	return s, nil
}
