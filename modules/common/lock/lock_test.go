package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"stylist-server/modules/common/model"
)

func newLocker(t *testing.T, ttl time.Duration) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewLocker(rdb, ttl), mr
}

func TestAcquireTwiceReturnsLocked(t *testing.T) {
	locker, mr := newLocker(t, 0)
	ctx := context.Background()

	first, err := locker.Acquire(ctx, "tryon", "req-1")
	require.NoError(t, err)
	require.Equal(t, "tryon:lock:req-1", first.Key)
	require.Equal(t, 300*time.Second, mr.TTL(first.Key))

	_, err = locker.Acquire(ctx, "tryon", "req-1")
	require.True(t, errors.Is(err, model.ErrLocked))

	// 다른 키는 독립
	other, err := locker.Acquire(ctx, "tryon", "req-2")
	require.NoError(t, err)
	other.Release(ctx)
}

func TestReleaseAllowsReacquire(t *testing.T) {
	locker, mr := newLocker(t, time.Minute)
	ctx := context.Background()

	lk, err := locker.Acquire(ctx, "collage", "abc")
	require.NoError(t, err)
	lk.Release(ctx)
	require.False(t, mr.Exists("collage:lock:abc"))

	again, err := locker.Acquire(ctx, "collage", "abc")
	require.NoError(t, err)
	again.Release(ctx)
}

func TestExpiredLockIsNotReleasedByOldHolder(t *testing.T) {
	locker, mr := newLocker(t, time.Second)
	ctx := context.Background()

	old, err := locker.Acquire(ctx, "collage", "abc")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	require.False(t, mr.Exists(old.Key))

	require.NoError(t, mr.Set(old.Key, "someone-else"))
	old.Release(ctx)

	got, err := mr.Get(old.Key)
	require.NoError(t, err)
	require.Equal(t, "someone-else", got)
}

func TestStoreErrorIsStorageError(t *testing.T) {
	locker, mr := newLocker(t, 0)
	mr.Close()

	_, err := locker.Acquire(context.Background(), "tryon", "x")
	require.True(t, errors.Is(err, model.ErrStorage))
}
