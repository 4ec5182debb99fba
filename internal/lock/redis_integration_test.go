//go:build integration

package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	addr, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(addr)
	require.NoError(t, err)

	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestRedis_MutualExclusion(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	client := newRedisClient(t)
	// Two lockers model two processes sharing the server.
	lockers := []*Redis{
		NewRedis(client, WithRetryInterval(5*time.Millisecond)),
		NewRedis(client, WithRetryInterval(5*time.Millisecond)),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var (
		wg     sync.WaitGroup
		inside atomic.Int32
		broken atomic.Bool
	)
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := lockers[i%2].Lock(ctx, EncounterKey("ENC-1"), PatientKey("MRN-1"))
			if !assert.NoError(t, err) {
				return
			}
			if inside.Add(1) > 1 {
				broken.Store(true)
			}
			time.Sleep(5 * time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()
	assert.False(t, broken.Load())

	keys, err := client.Keys(ctx, "admitlog:lock:*").Result()
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestRedis_ExpiredLeaseIsNotReleasedByOldHolder(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	client := newRedisClient(t)
	ctx := context.Background()

	short := NewRedis(client, WithTTL(50*time.Millisecond))
	unlock, err := short.Lock(ctx, "k")
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	other := NewRedis(client)
	unlockOther, err := other.Lock(ctx, "k")
	require.NoError(t, err)

	unlock()
	held, err := client.Exists(ctx, "admitlog:lock:k").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), held)

	unlockOther()
	held, err = client.Exists(ctx, "admitlog:lock:k").Result()
	require.NoError(t, err)
	assert.Zero(t, held)
}
