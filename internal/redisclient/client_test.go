package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := Wrap(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestAcquireLockIsExclusive(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	token, ok, err := c.AcquireLock(ctx, "refund-sweeper", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, token)

	_, ok, err = c.AcquireLock(ctx, "refund-sweeper", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.ReleaseLock(ctx, "refund-sweeper", token))

	_, ok, err = c.AcquireLock(ctx, "refund-sweeper", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseLockKeepsForeignOwner(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	stale, ok, err := c.AcquireLock(ctx, "refund-sweeper", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	current, ok, err := c.AcquireLock(ctx, "refund-sweeper", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, c.ReleaseLock(ctx, "refund-sweeper", stale))

	value, err := mr.Get("lock:refund-sweeper")
	require.NoError(t, err)
	assert.Equal(t, current, value)
}
