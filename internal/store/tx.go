package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Tx is a store transaction. Obtain one through Store.Update or
// Store.View; it must not be used after the callback returns.
type Tx struct {
	tx       *sql.Tx
	readOnly bool
}

func (t *Tx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if t.readOnly {
		return nil, ErrReadOnly
	}
	res, err := t.tx.ExecContext(ctx, query, args...)
	return res, mapError(err)
}

func (t *Tx) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	return rows, mapError(err)
}

func (t *Tx) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}

// collect scans every row with scan and closes rows.
func collect[T any](rows *sql.Rows, what string, scan func(*sql.Rows) (T, error)) ([]T, error) {
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", what, mapError(err))
	}
	return out, nil
}

// Writable reports whether the transaction accepts writes.
func (t *Tx) Writable() bool { return !t.readOnly }
