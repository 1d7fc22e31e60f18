package redisclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"tool-rental-service/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	return newClient(redis.NewClient(&redis.Options{Addr: mr.Addr()})), mr
}

func TestAcquireLock_Exclusive(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	lock, err := c.AcquireLock(ctx, "booking:1", time.Second)
	require.NoError(t, err)

	_, err = c.AcquireLock(ctx, "booking:1", time.Second)
	assert.True(t, errors.Is(err, ErrLockHeld))

	require.NoError(t, lock.Release(ctx))

	again, err := c.AcquireLock(ctx, "booking:1", time.Second)
	require.NoError(t, err)
	assert.NotNil(t, again)
}

func TestRelease_OnlyOwner(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	stale, err := c.AcquireLock(ctx, "booking:2", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	current, err := c.AcquireLock(ctx, "booking:2", time.Second)
	require.NoError(t, err)

	require.NoError(t, stale.Release(ctx))
	assert.True(t, mr.Exists("lock:booking:2"), "stale owner must not release the new lock")

	require.NoError(t, current.Release(ctx))
	assert.False(t, mr.Exists("lock:booking:2"))
}

func TestAcquireLockWait_ContextDone(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := c.AcquireLock(context.Background(), "booking:3", time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = c.AcquireLockWait(ctx, "booking:3", time.Minute, 10*time.Millisecond)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestIdempotencyKey(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	seen, err := c.CheckIdempotencyKey(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, c.SetIdempotencyKey(ctx, "evt_1", "processed", time.Hour))

	seen, err = c.CheckIdempotencyKey(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestBookedRangesCache(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	_, version, ok, err := c.GetCachedBookedRanges(ctx, "tool-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, version)

	ranges := []models.DateRange{{
		Start: time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2027, 1, 3, 0, 0, 0, 0, time.UTC),
	}}
	require.NoError(t, c.CacheBookedRanges(ctx, "tool-1", version, ranges, time.Minute))

	got, _, ok, err := c.GetCachedBookedRanges(ctx, "tool-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got[0].Start.Equal(ranges[0].Start))

	require.NoError(t, c.InvalidateBookedRanges(ctx, "tool-1"))
	_, version, ok, err = c.GetCachedBookedRanges(ctx, "tool-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.EqualValues(t, 1, version)
}

func TestBookedRangesCache_FillAfterInvalidateIsNotServed(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	// a reader misses and loads from the store
	_, stale, ok, err := c.GetCachedBookedRanges(ctx, "tool-1")
	require.NoError(t, err)
	require.False(t, ok)

	// a confirmation commits and invalidates before the reader writes back
	require.NoError(t, c.InvalidateBookedRanges(ctx, "tool-1"))
	require.NoError(t, c.CacheBookedRanges(ctx, "tool-1", stale, []models.DateRange{}, time.Minute))

	_, _, ok, err = c.GetCachedBookedRanges(ctx, "tool-1")
	require.NoError(t, err)
	assert.False(t, ok, "a fill from before the invalidation must not be served")
}
