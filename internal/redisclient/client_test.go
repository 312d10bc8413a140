package redisclient

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	c, err := NewClient(addr, "", 0, "test-"+uuid.New().String()+":")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestKeyPrefix(t *testing.T) {
	c := &Client{prefix: "fulfillment:"}
	assert.Equal(t, "fulfillment:lock:cashback-expire", c.key("lock", "cashback-expire"))
}

func TestIdempotencyRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, ok, err := c.GetOrderID(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.SetOrderID(ctx, "k", 41, time.Minute))
	id, ok, err := c.GetOrderID(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(41), id)
}

func TestLockIsExclusive(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	release, ok, err := c.AcquireLock(ctx, "job", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = c.AcquireLock(ctx, "job", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, release(ctx))
	_, ok, err = c.AcquireLock(ctx, "job", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEventDedup(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	seen, err := c.IsEventProcessed(ctx, "e-1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, c.MarkEventProcessed(ctx, "e-1", time.Minute))
	seen, err = c.IsEventProcessed(ctx, "e-1")
	require.NoError(t, err)
	assert.True(t, seen)
}
