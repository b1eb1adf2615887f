package worker

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	r "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *r.Client {
	t.Helper()

	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}

	rdb := r.NewClient(&r.Options{Addr: addr})
	t.Cleanup(func() { rdb.Close() })
	require.NoError(t, rdb.Ping(context.Background()).Err())
	return rdb
}

func TestRedisLocker(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()
	locker := NewRedisLocker(rdb, "test-lock-"+uuid.NewString())

	lease, err := locker.Acquire(ctx, "job-1", time.Minute)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "job-1", time.Minute)
	assert.ErrorIs(t, err, ErrLockHeld)

	other, err := locker.Acquire(ctx, "job-2", time.Minute)
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lease.Extend(ctx, 2*time.Minute))
	require.NoError(t, lease.Release(ctx))

	again, err := locker.Acquire(ctx, "job-1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestRedisLocker_StaleLeaseCannotReleaseNewHolder(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()
	locker := NewRedisLocker(rdb, "test-lock-"+uuid.NewString())

	stale, err := locker.Acquire(ctx, "job-1", 50*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)

	holder, err := locker.Acquire(ctx, "job-1", time.Minute)
	require.NoError(t, err)

	require.NoError(t, stale.Release(ctx))
	assert.ErrorIs(t, stale.Extend(ctx, time.Minute), ErrLockHeld)

	_, err = locker.Acquire(ctx, "job-1", time.Minute)
	assert.ErrorIs(t, err, ErrLockHeld, "new holder keeps the lock")

	require.NoError(t, holder.Release(ctx))
}
