// Package lock serializes work per key.
//
// The engine takes the keys of the encounter and identities an event
// touches before opening its transaction. Keys are always acquired in
// sorted order, so two callers locking overlapping key sets cannot
// deadlock.
package lock

import (
	"context"
	"slices"
)

// Unlock releases the keys taken by a Lock call.
type Unlock func()

// Locker acquires a set of keys exclusively.
type Locker interface {
	// Lock blocks until every key is held or ctx is done.
	Lock(ctx context.Context, keys ...string) (Unlock, error)
}

// EncounterKey is the lock key of an encounter.
func EncounterKey(key string) string { return "enc:" + key }

// PatientKey is the lock key of a patient identity.
func PatientKey(key string) string { return "pat:" + key }

// normalize sorts keys and drops duplicates and empty keys.
func normalize(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// lockAll acquires keys in order with acquire. On failure the keys taken
// so far are released in reverse order.
func lockAll(ctx context.Context, keys []string, acquire func(context.Context, string) (func(), error)) (Unlock, error) {
	keys = normalize(keys)
	releases := make([]func(), 0, len(keys))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, k := range keys {
		release, err := acquire(ctx, k)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}
