package tasklock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLocker(t *testing.T, ttl time.Duration) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker, err := NewRedisLocker(client, ttl, nil)
	require.NoError(t, err)
	return locker, mr
}

func TestRedisLockerExclusive(t *testing.T) {
	locker, mr := newRedisLocker(t, time.Minute)
	ctx := context.Background()

	lease, ok, err := locker.TryAcquire(ctx, "T1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists("modelgen:poll:T1"))
	assert.Greater(t, mr.TTL("modelgen:poll:T1"), time.Duration(0))

	_, ok, err = locker.TryAcquire(ctx, "T1")
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must fail while the lease is held")

	other, ok, err := locker.TryAcquire(ctx, "T2")
	require.NoError(t, err)
	assert.True(t, ok, "different task ids do not contend")
	other.Release()

	lease.Release()
	lease.Release()
	assert.False(t, mr.Exists("modelgen:poll:T1"))

	again, ok, err := locker.TryAcquire(ctx, "T1")
	require.NoError(t, err)
	assert.True(t, ok)
	again.Release()
}

func TestRedisLockerReleaseKeepsForeignLease(t *testing.T) {
	locker, mr := newRedisLocker(t, time.Minute)

	lease, ok, err := locker.TryAcquire(context.Background(), "T1")
	require.NoError(t, err)
	require.True(t, ok)

	// Simulate expiry followed by another process taking the lease.
	require.NoError(t, mr.Set("modelgen:poll:T1", "someone-else"))
	lease.Release()

	got, err := mr.Get("modelgen:poll:T1")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestRedisLockerExpiresAbandonedLease(t *testing.T) {
	locker, mr := newRedisLocker(t, time.Minute)

	first, ok, err := locker.TryAcquire(context.Background(), "T1")
	require.NoError(t, err)
	require.True(t, ok)
	defer first.Release()

	mr.FastForward(2 * time.Minute)

	lease, ok, err := locker.TryAcquire(context.Background(), "T1")
	require.NoError(t, err)
	assert.True(t, ok, "expired lease should be reclaimable")
	lease.Release()
}

func TestRedisLockerHeldLeaseOutlivesTTLAcrossProcesses(t *testing.T) {
	ttl := 600 * time.Millisecond
	api, mr := newRedisLocker(t, ttl)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	worker, err := NewRedisLocker(client, ttl, nil)
	require.NoError(t, err)
	ctx := context.Background()

	lease, ok, err := api.TryAcquire(ctx, "T1")
	require.NoError(t, err)
	require.True(t, ok)
	defer lease.Release()

	// A long relocation keeps the lease: the keep-alive renews it while the
	// clock moves well past the original TTL.
	for i := 0; i < 4; i++ {
		time.Sleep(300 * time.Millisecond)
		mr.FastForward(400 * time.Millisecond)
		_, ok, err := worker.TryAcquire(ctx, "T1")
		require.NoError(t, err)
		assert.False(t, ok, "second process must not take a held lease (round %d)", i)
	}
}

func TestNewRedisLockerRequiresClient(t *testing.T) {
	_, err := NewRedisLocker(nil, 0, nil)
	assert.Error(t, err)
}

func TestLocalLocker(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	lease, ok, err := locker.TryAcquire(ctx, "T1")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.TryAcquire(ctx, "T1")
	require.NoError(t, err)
	assert.False(t, ok)

	lease.Release()
	lease.Release()

	lease, ok, err = locker.TryAcquire(ctx, "T1")
	require.NoError(t, err)
	assert.True(t, ok)
	lease.Release()
}

func TestLocalLockerCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok, err := NewLocalLocker().TryAcquire(ctx, "T1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ok)
}
