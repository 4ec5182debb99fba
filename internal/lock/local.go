package lock

import (
	"context"
	"fmt"
	"sync"
)

// Local is an in-process keyed mutex. Entries are reference counted and
// dropped when no caller holds or waits for them.
type Local struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	sem  chan struct{}
	refs int
}

// NewLocal creates an empty Local.
func NewLocal() *Local {
	return &Local{entries: make(map[string]*entry)}
}

// Lock implements Locker.
func (l *Local) Lock(ctx context.Context, keys ...string) (Unlock, error) {
	return lockAll(ctx, keys, l.acquire)
}

func (l *Local) acquire(ctx context.Context, key string) (func(), error) {
	e := l.ref(key)
	select {
	case e.sem <- struct{}{}:
		return func() {
			<-e.sem
			l.unref(key)
		}, nil
	case <-ctx.Done():
		l.unref(key)
		return nil, fmt.Errorf("lock %s: %w", key, ctx.Err())
	}
}

func (l *Local) ref(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	return e
}

func (l *Local) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.entries[key]
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

// size returns the number of live entries.
func (l *Local) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
