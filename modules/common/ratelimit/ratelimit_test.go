package ratelimit

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"stylist-server/modules/common/model"
)

// failingHook - 이름이 일치하는 명령을 처음 n 번 실패시킴
type failingHook struct {
	names    []string
	failures atomic.Int32
	seen     atomic.Int32
}

func (h *failingHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *failingHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		for _, name := range h.names {
			if strings.EqualFold(cmd.Name(), name) {
				h.seen.Add(1)
				if h.failures.Add(-1) >= 0 {
					err := errors.New("injected failure")
					cmd.SetErr(err)
					return err
				}
			}
		}
		return next(ctx, cmd)
	}
}

func (h *failingHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func newHookedLimiter(t *testing.T, max int, hook *failingHook) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rdb.AddHook(hook)
	t.Cleanup(func() { _ = rdb.Close() })
	return NewLimiter(rdb, max), mr
}

func newLimiter(t *testing.T, max int) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewLimiter(rdb, max), mr
}

func TestOverLimitCallStillIncrements(t *testing.T) {
	const max = 3
	limiter, mr := newLimiter(t, max)
	ctx := context.Background()

	for i := 1; i <= max; i++ {
		res := limiter.CheckAndIncrementLimit(ctx, "user-1")
		require.True(t, res.Allowed)
		require.EqualValues(t, i, res.CurrentCount)
	}

	res := limiter.CheckAndIncrementLimit(ctx, "user-1")
	require.False(t, res.Allowed)
	require.EqualValues(t, max+1, res.CurrentCount)
	require.NotEmpty(t, res.Message)

	got, err := mr.Get("usage:generation:user-1")
	require.NoError(t, err)
	require.Equal(t, "4", got)
}

func TestTTLSetOnlyOnFirstIncrement(t *testing.T) {
	limiter, mr := newLimiter(t, 10)
	ctx := context.Background()

	limiter.CheckAndIncrementLimit(ctx, "")
	require.Equal(t, 24*time.Hour, mr.TTL("usage:generation:global"))

	mr.FastForward(time.Hour)
	limiter.CheckAndIncrementLimit(ctx, "")
	require.Equal(t, 23*time.Hour, mr.TTL("usage:generation:global"))
}

func TestWindowResetsAfterExpiry(t *testing.T) {
	limiter, mr := newLimiter(t, 1)
	ctx := context.Background()

	require.True(t, limiter.CheckAndIncrementLimit(ctx, "u").Allowed)
	require.False(t, limiter.CheckAndIncrementLimit(ctx, "u").Allowed)

	mr.FastForward(25 * time.Hour)
	require.True(t, limiter.CheckAndIncrementLimit(ctx, "u").Allowed)
}

func TestStoreErrorFailsClosed(t *testing.T) {
	limiter, mr := newLimiter(t, 10)
	mr.Close()

	res := limiter.CheckAndIncrementLimit(context.Background(), "u")
	require.False(t, res.Allowed)
	require.NotEmpty(t, res.Message)
}

func TestCounterAlwaysGetsTTLEvenWhenExpireFails(t *testing.T) {
	// 별도 EXPIRE 왕복이 실패해도 카운터가 TTL 없이 남으면 안 됨
	hook := &failingHook{names: []string{"expire"}}
	hook.failures.Store(1)
	limiter, mr := newHookedLimiter(t, 2, hook)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		limiter.CheckAndIncrementLimit(ctx, "u")
	}
	require.Zero(t, hook.seen.Load(), "expiry must be applied atomically with INCR")
	require.Equal(t, 24*time.Hour, mr.TTL("usage:generation:u"))

	mr.FastForward(25 * time.Hour)
	require.True(t, limiter.CheckAndIncrementLimit(ctx, "u").Allowed)
}

func TestFailedIncrementLeavesNoCounter(t *testing.T) {
	hook := &failingHook{names: []string{"evalsha", "eval"}}
	hook.failures.Store(1)
	limiter, mr := newHookedLimiter(t, 2, hook)
	ctx := context.Background()

	res := limiter.CheckAndIncrementLimit(ctx, "u")
	require.False(t, res.Allowed)
	require.False(t, mr.Exists("usage:generation:u"))

	res = limiter.CheckAndIncrementLimit(ctx, "u")
	require.True(t, res.Allowed)
	require.EqualValues(t, 1, res.CurrentCount)
	require.Equal(t, 24*time.Hour, mr.TTL("usage:generation:u"))
}

func TestCounterWithoutTTLIsHealed(t *testing.T) {
	limiter, mr := newLimiter(t, 10)
	require.NoError(t, mr.Set("usage:generation:u", "7"))
	require.Zero(t, mr.TTL("usage:generation:u"))

	res := limiter.CheckAndIncrementLimit(context.Background(), "u")
	require.True(t, res.Allowed)
	require.EqualValues(t, 8, res.CurrentCount)
	require.Equal(t, 24*time.Hour, mr.TTL("usage:generation:u"))
}

func TestResultErr(t *testing.T) {
	require.NoError(t, Result{Allowed: true}.Err())

	err := Result{Allowed: false, Message: "daily generation limit reached (3/2)"}.Err()
	require.ErrorIs(t, err, model.ErrLimitExceeded)
	require.Contains(t, err.Error(), "3/2")
}
