package identity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/admitlog/internal/ir"
	"github.com/roach88/admitlog/internal/store"
	"github.com/roach88/admitlog/internal/temporal"
)

// MergeOutcome classifies the result of Merge.
type MergeOutcome string

const (
	Merged        MergeOutcome = "merged"
	AlreadyMerged MergeOutcome = "already_merged"
	Renamed       MergeOutcome = "renamed"
)

// Identity is an external key together with the canonical identity it
// currently resolves to.
type Identity struct {
	Key       string
	Canonical string

	// Hops is the number of pointers followed from Key to Canonical.
	Hops int
}

// MergeResult describes an applied merge.
type MergeResult struct {
	Outcome    MergeOutcome
	Retired    string
	Surviving  string
	Redirected []string
	Reparented int64
}

// Resolver resolves and merges identities inside store transactions.
// It holds no state of its own and is safe for concurrent use.
type Resolver struct {
	logger *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// New creates a Resolver.
func New(opts ...Option) *Resolver {
	r := &Resolver{logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func pointerEntity(key string) store.Entity {
	return store.Entity{Type: ir.EntityLivePointer, Key: key, Scope: key}
}

// Resolve follows live pointers from key to its canonical identity.
// It fails with a NotFoundError when key was never seen.
//
// Merge points every member of the retired identity straight at the
// survivor, so chains written by this package are at most one hop long.
func (r *Resolver) Resolve(ctx context.Context, tx *store.Tx, key string) (Identity, error) {
	exists, err := tx.IdentityExists(ctx, key)
	if err != nil {
		return Identity{}, err
	}
	if !exists {
		return Identity{}, ir.NewNotFoundError("identity", key)
	}

	guard := newPathGuard()
	current := key
	hops := 0
	for {
		if guard.wouldCycle(current) {
			return Identity{}, fmt.Errorf("resolve %s: live pointer cycle at %s", key, current)
		}
		guard.record(current)

		next, ok, err := r.pointer(ctx, tx, current)
		if err != nil {
			return Identity{}, err
		}
		if !ok || next == current {
			return Identity{Key: key, Canonical: current, Hops: hops}, nil
		}
		current = next
		hops++
	}
}

// GetOrCreate resolves key, creating a self-pointing identity first seen
// at eventTime when the key is unknown.
func (r *Resolver) GetOrCreate(ctx context.Context, tx *store.Tx, key string, eventTime, at time.Time) (Identity, temporal.Outcome, error) {
	created, err := tx.CreateIdentity(ctx, key, eventTime, at)
	if err != nil {
		return Identity{}, "", err
	}
	if !created {
		id, err := r.Resolve(ctx, tx, key)
		return id, temporal.NoOp, err
	}

	if err := r.point(ctx, tx, key, key, eventTime, at); err != nil {
		return Identity{}, "", err
	}
	r.logger.Debug("created identity", "patient_key", key)
	return Identity{Key: key, Canonical: key}, temporal.Created, nil
}

// Merge retires the identity of retiredKey into the canonical identity of
// survivingKey at mergeTime.
//
// Every pointer resolving to the retired canonical identity is redirected
// to the survivor, the merge is appended to the merge log and ownership of
// encounters and facts moves to the survivor. A retired key never seen
// before is created pointing at the survivor.
func (r *Resolver) Merge(ctx context.Context, tx *store.Tx, retiredKey, survivingKey string, mergeTime, at time.Time) (MergeResult, error) {
	surviving, _, err := r.GetOrCreate(ctx, tx, survivingKey, mergeTime, at)
	if err != nil {
		return MergeResult{}, err
	}
	s := surviving.Canonical

	result := MergeResult{Outcome: Merged, Retired: retiredKey, Surviving: s}

	created, err := tx.CreateIdentity(ctx, retiredKey, mergeTime, at)
	if err != nil {
		return MergeResult{}, err
	}
	if created {
		if err := r.point(ctx, tx, retiredKey, s, mergeTime, at); err != nil {
			return MergeResult{}, err
		}
		result.Redirected = []string{retiredKey}
		if err := r.appendLog(ctx, tx, retiredKey, retiredKey, s, mergeTime, at); err != nil {
			return MergeResult{}, err
		}
		return result, nil
	}

	retired, err := r.Resolve(ctx, tx, retiredKey)
	if err != nil {
		return MergeResult{}, err
	}
	if retired.Canonical == s {
		return MergeResult{Outcome: AlreadyMerged, Retired: retiredKey, Surviving: s}, nil
	}

	members, err := r.members(ctx, tx, retired.Canonical)
	if err != nil {
		return MergeResult{}, err
	}
	for _, key := range members {
		if err := r.point(ctx, tx, key, s, mergeTime, at); err != nil {
			return MergeResult{}, err
		}
	}
	result.Redirected = members

	if err := r.appendLog(ctx, tx, retiredKey, retired.Canonical, s, mergeTime, at); err != nil {
		return MergeResult{}, err
	}

	n, err := tx.Reparent(ctx, retired.Canonical, s)
	if err != nil {
		return MergeResult{}, err
	}
	result.Reparented = n

	r.logger.Info("merged identities",
		"retired_key", retiredKey,
		"retired_canonical", retired.Canonical,
		"surviving_key", s,
		"redirected", len(members),
		"reparented", n,
	)
	return result, nil
}

// Rename replaces previousKey with newKey at eventTime. newKey must be
// unknown. The identity of previousKey is merged into the new key, so
// every key resolving to it follows and its encounters and facts move
// over. When previousKey is unknown too, newKey is created on its own.
func (r *Resolver) Rename(ctx context.Context, tx *store.Tx, previousKey, newKey string, eventTime, at time.Time) (MergeResult, error) {
	if previousKey == newKey {
		return MergeResult{}, ir.NewInconsistencyError(newKey, "identifier change keeps the patient key", nil)
	}
	exists, err := tx.IdentityExists(ctx, newKey)
	if err != nil {
		return MergeResult{}, err
	}
	if exists {
		return MergeResult{}, ir.NewInconsistencyError(newKey, "new patient key already exists", map[string]string{
			"previous_patient_key": previousKey,
		})
	}
	known, err := tx.IdentityExists(ctx, previousKey)
	if err != nil {
		return MergeResult{}, err
	}
	if !known {
		if _, _, err := r.GetOrCreate(ctx, tx, newKey, eventTime, at); err != nil {
			return MergeResult{}, err
		}
		return MergeResult{Outcome: Renamed, Surviving: newKey}, nil
	}

	result, err := r.Merge(ctx, tx, previousKey, newKey, eventTime, at)
	if err != nil {
		return MergeResult{}, err
	}
	result.Outcome = Renamed
	return result, nil
}

// MergedInto lists the keys, other than the canonical key itself, that
// resolve to the canonical identity of key.
func (r *Resolver) MergedInto(ctx context.Context, tx *store.Tx, key string) ([]string, error) {
	id, err := r.Resolve(ctx, tx, key)
	if err != nil {
		return nil, err
	}
	members, err := r.members(ctx, tx, id.Canonical)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(members))
	for _, m := range members {
		if m != id.Canonical {
			out = append(out, m)
		}
	}
	return out, nil
}

// members returns canonical and every key whose pointer chain ends there.
func (r *Resolver) members(ctx context.Context, tx *store.Tx, canonical string) ([]string, error) {
	guard := newPathGuard()
	queue := []string{canonical}
	var out []string
	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		if guard.wouldCycle(key) {
			continue
		}
		guard.record(key)
		out = append(out, key)

		referrers, err := tx.PointersTo(ctx, key)
		if err != nil {
			return nil, err
		}
		queue = append(queue, referrers...)
	}
	return out, nil
}

// pointer returns the current target of key's live pointer.
func (r *Resolver) pointer(ctx context.Context, tx *store.Tx, key string) (string, bool, error) {
	history, err := store.LoadHistory[ir.LivePointer](ctx, tx, ir.EntityLivePointer, key)
	if err != nil {
		return "", false, err
	}
	live, ok := temporal.Live(history)
	if !ok || live.Tombstone {
		return "", false, nil
	}
	return live.Value.LiveKey, true, nil
}

// point versions key's pointer to target from eventTime on. When the
// pointer already changed at or after eventTime, the change is made from
// that later time so the merge appends instead of rewriting history.
func (r *Resolver) point(ctx context.Context, tx *store.Tx, key, target string, eventTime, at time.Time) error {
	history, err := store.LoadHistory[ir.LivePointer](ctx, tx, ir.EntityLivePointer, key)
	if err != nil {
		return err
	}

	believed := temporal.Believed(history)
	from := eventTime
	if n := len(believed); n > 0 {
		from = ir.Later(eventTime, believed[n-1].ValidFrom)
	}
	desired := append(believed[:len(believed):len(believed)], temporal.At(from, ir.LivePointer{LiveKey: target}))

	plan, err := temporal.Sync(history, desired, at)
	if err != nil {
		return fmt.Errorf("point %s at %s: %w", key, target, err)
	}
	return store.ApplyPlan(ctx, tx, pointerEntity(key), plan)
}

func (r *Resolver) appendLog(ctx context.Context, tx *store.Tx, retiredKey, retiredCanonical, surviving string, mergeTime, at time.Time) error {
	return tx.AppendMerge(ctx, store.MergeRecord{
		RetiredKey:       retiredKey,
		RetiredCanonical: retiredCanonical,
		SurvivingKey:     surviving,
		MergeTime:        mergeTime,
		StoredAt:         at,
	})
}
