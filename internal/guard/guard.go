// Package guard makes event application idempotent.
//
// Every applied event is recorded under a scope with its fingerprint, in
// the same transaction as the state change it caused. An event whose
// fingerprint is already recorded in its scope is skipped with a
// MessageIgnoredError. The per-encounter part of the log is also the input
// the visit reconciler replays.
package guard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/admitlog/internal/ir"
	"github.com/roach88/admitlog/internal/store"
)

// EncounterScope is the scope of movement events of one encounter.
func EncounterScope(key string) string { return "encounter:" + key }

// PatientScope is the scope of identity and ancillary events of a patient.
func PatientScope(key string) string { return "patient:" + key }

// Scope returns the scope an event is deduplicated in.
func Scope(e ir.Event) string {
	h := e.Meta()
	if ir.IsMovement(e) {
		return EncounterScope(h.EncounterKey)
	}
	return PatientScope(h.PatientKey)
}

// Guard checks and records applied events.
type Guard struct {
	logger *slog.Logger
}

// New creates a Guard logging skips to logger. A nil logger uses
// slog.Default.
func New(logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{logger: logger}
}

// Check fails with a MessageIgnoredError when an event with fingerprint
// was already applied in scope.
func (g *Guard) Check(ctx context.Context, tx *store.Tx, scope, fingerprint string) error {
	applied, err := tx.HasApplied(ctx, scope, fingerprint)
	if err != nil {
		return fmt.Errorf("guard check: %w", err)
	}
	if !applied {
		return nil
	}
	g.logger.Debug("duplicate event",
		"scope", scope,
		"fingerprint", fingerprint,
	)
	return ir.NewMessageIgnoredError(scope, "event already applied")
}

// Record adds e to the applied log of its scope. It must run in the
// transaction that applies the event.
func (g *Guard) Record(ctx context.Context, tx *store.Tx, e ir.Event, fingerprint string, at time.Time) error {
	return g.RecordIn(ctx, tx, Scope(e), e, fingerprint, at)
}

// RecordIn adds e to the applied log of scope. An event records itself in
// the scopes of other subjects it changes, such as a person deletion in
// the encounters of the person.
func (g *Guard) RecordIn(ctx context.Context, tx *store.Tx, scope string, e ir.Event, fingerprint string, at time.Time) error {
	payload, err := ir.EncodeEvent(e)
	if err != nil {
		return fmt.Errorf("guard record: %w", err)
	}
	h := e.Meta()
	return tx.RecordApplied(ctx, store.AppliedEvent{
		Scope:        scope,
		Fingerprint:  fingerprint,
		Kind:         e.Kind(),
		EventTime:    h.EventTime,
		RecordedTime: h.RecordedTime,
		Payload:      payload,
		StoredAt:     at,
	})
}
