package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, []string{"enc:1", "pat:a"}, normalize([]string{"pat:a", "", "enc:1", "pat:a"}))
	assert.Empty(t, normalize(nil))
}

func TestLocal_MutualExclusion(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		inside  atomic.Int32
		maxSeen atomic.Int32
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, EncounterKey("ENC-1"))
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			for {
				m := maxSeen.Load()
				if n <= m || maxSeen.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen.Load())
	assert.Zero(t, l.size())
}

func TestLocal_DisjointKeysDoNotBlock(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	unlock, err := l.Lock(ctx, EncounterKey("ENC-1"))
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	other, err := l.Lock(ctx, EncounterKey("ENC-2"), PatientKey("MRN-2"))
	require.NoError(t, err)
	other()
}

func TestLocal_ContextCancelled(t *testing.T) {
	l := NewLocal()
	unlock, err := l.Lock(context.Background(), "b")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "b", "a")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// "a" was released when "b" could not be taken.
	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	a, err := l.Lock(ctx2, "a")
	require.NoError(t, err)
	a()

	unlock()
	assert.Zero(t, l.size())
}

func TestLocal_OverlappingSetsDoNotDeadlock(t *testing.T) {
	l := NewLocal()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			keys := []string{"x", "y"}
			if i == 1 {
				keys = []string{"y", "x"}
			}
			for range 200 {
				unlock, err := l.Lock(ctx, keys...)
				if !assert.NoError(t, err) {
					return
				}
				unlock()
			}
		}()
	}
	wg.Wait()
}
