package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	url := os.Getenv("SWEEPWATCH_TEST_REDIS_URL")
	if url == "" {
		t.Skip("SWEEPWATCH_TEST_REDIS_URL not set")
	}
	c, err := NewClient(Config{URL: url, KeyPrefix: "sweepwatch-test-" + uuid.NewString()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestLease_Exclusive(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()

	lease, err := c.AcquireLease(ctx, "cycle", 5*time.Second)
	require.NoError(t, err)

	_, err = c.AcquireLease(ctx, "cycle", 5*time.Second)
	assert.ErrorIs(t, err, ErrLeaseHeld)

	require.NoError(t, lease.Refresh(ctx, 10*time.Second))
	require.NoError(t, lease.Release(ctx))

	again, err := c.AcquireLease(ctx, "cycle", 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestLease_ReleaseAfterLossKeepsNewHolder(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()

	stale, err := c.AcquireLease(ctx, "cycle", 50*time.Millisecond)
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	holder, err := c.AcquireLease(ctx, "cycle", 5*time.Second)
	require.NoError(t, err)

	require.NoError(t, stale.Release(ctx))
	assert.ErrorIs(t, stale.Refresh(ctx, time.Second), ErrLeaseHeld)

	_, err = c.AcquireLease(ctx, "cycle", 5*time.Second)
	assert.ErrorIs(t, err, ErrLeaseHeld)
	require.NoError(t, holder.Release(ctx))
}

func TestPriceCache(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()

	_, found, err := c.GetPrice(ctx, "ETH")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.SetPrice(ctx, "ETH", decimal.RequireFromString("2500.125"), time.Minute))
	price, found, err := c.GetPrice(ctx, "ETH")
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, price.Equal(decimal.RequireFromString("2500.125")))
}

func TestMarkOnce(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()

	first, err := c.MarkOnce(ctx, "breach:w1/evm/ETH", time.Minute)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := c.MarkOnce(ctx, "breach:w1/evm/ETH", time.Minute)
	require.NoError(t, err)
	assert.False(t, second)
}

func TestCycleLock(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	lock := c.CycleLock("cycle", 5*time.Second)

	unlock, ok, err := lock.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = lock.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, unlock(ctx))
	unlock, ok, err = lock.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, unlock(ctx))
}
