package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKeyClassRoundTrip(t *testing.T) {
	key := JobKeys.Key("abc")
	require.Equal(t, "job:abc", key)

	id, ok := JobKeys.ID(key)
	require.True(t, ok)
	require.Equal(t, "abc", id)

	_, ok = UsageKeys.ID(key)
	require.False(t, ok)
}

func TestLockKeys(t *testing.T) {
	k := LockKeys("tryon", 0)
	require.Equal(t, "tryon:lock:req-1", k.Key("req-1"))
	require.Equal(t, 300*time.Second, k.TTL)

	require.Equal(t, time.Minute, LockKeys("collage", time.Minute).TTL)
}

func TestIsJobDocumentKey(t *testing.T) {
	require.True(t, IsJobDocumentKey("job:123"))
	require.False(t, IsJobDocumentKey("job:events:123"))
	require.False(t, IsJobDocumentKey("usage:generation:u1"))
}
