package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewLocker(rdb, "lock:"), mr
}

func TestAcquireIsExclusive(t *testing.T) {
	l, _ := newTestLocker(t)
	ctx := context.Background()

	lk, err := l.Acquire(ctx, "rec-1", time.Minute)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "rec-1", time.Minute)
	assert.ErrorIs(t, err, ErrLockHeld)

	other, err := l.Acquire(ctx, "rec-2", time.Minute)
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lk.Release(ctx))
	again, err := l.Acquire(ctx, "rec-1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestReleaseAfterExpiryKeepsNewHolder(t *testing.T) {
	l, mr := newTestLocker(t)
	ctx := context.Background()

	stale, err := l.Acquire(ctx, "rec-1", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	fresh, err := l.Acquire(ctx, "rec-1", time.Minute)
	require.NoError(t, err)

	require.NoError(t, stale.Release(ctx))
	assert.True(t, mr.Exists("lock:rec-1"))

	require.NoError(t, fresh.Release(ctx))
	assert.False(t, mr.Exists("lock:rec-1"))
}
