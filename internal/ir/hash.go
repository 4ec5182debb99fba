package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identifiers.
// The version suffix allows a future algorithm migration.
const (
	DomainEvent    = "admitlog/event/v1"
	DomainSnapshot = "admitlog/snapshot/v1"
)

// hashWithDomain computes SHA256(domain || 0x00 || data) as hex.
// The null separator keeps domain and data boundaries unambiguous.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint computes the content address of an event: its kind, patient
// key, encounter key, event time and kind-specific fields. Recorded time
// and source system are excluded, so a re-sent message with a new
// recorded time is still recognized as a duplicate.
func Fingerprint(e Event) (string, error) {
	h := e.Meta()
	obj := Object{
		"kind":        String(e.Kind()),
		"patient_key": String(h.PatientKey),
		"event_time":  Int(Normalize(h.EventTime).UnixMicro()),
		"fields":      e.fields(),
	}
	putString(obj, "encounter_key", h.EncounterKey)

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	return hashWithDomain(DomainEvent, canonical), nil
}

// MustFingerprint is like Fingerprint but panics on error.
// Use only in tests or with events known to be valid.
func MustFingerprint(e Event) string {
	fp, err := Fingerprint(e)
	if err != nil {
		panic(err)
	}
	return fp
}

// SnapshotHash hashes any canonical value. Replay uses it to compare the
// final state of two stores.
func SnapshotHash(v any) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("snapshot hash: %w", err)
	}
	return hashWithDomain(DomainSnapshot, canonical), nil
}
