package store

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/admitlog/internal/ir"
)

// Raw is an undecoded JSON payload. Payloads are written by encoding/json
// from structs, so equal values have equal bytes.
type Raw []byte

// Equal compares payload bytes.
func (r Raw) Equal(o Raw) bool { return bytes.Equal(r, o) }

// MarshalJSON emits the payload unchanged.
func (r Raw) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

// UnmarshalJSON keeps a copy of the payload bytes.
func (r *Raw) UnmarshalJSON(data []byte) error {
	*r = append((*r)[:0], data...)
	return nil
}

// encodePayload converts a fact to JSON TEXT for storage.
// HTML escaping is disabled so stored text matches canonical output.
func encodePayload[E any](v E) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

// decodePayload parses JSON TEXT into a fact. A NULL payload (tombstone)
// decodes to the zero value.
func decodePayload[E any](data sql.NullString) (E, error) {
	var v E
	if !data.Valid {
		return v, nil
	}
	if err := json.Unmarshal([]byte(data.String), &v); err != nil {
		return v, fmt.Errorf("unmarshal payload: %w", err)
	}
	return v, nil
}

func micros(t time.Time) int64 {
	return ir.Normalize(t).UnixMicro()
}

func nullMicros(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: micros(*t), Valid: true}
}

func fromNullMicros(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := ir.FromMicros(v.Int64)
	return &t
}
