package redisclient

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tool-rental-service/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

// ErrLockHeld is returned when another worker owns the lock
var ErrLockHeld = errors.New("lock held by another owner")

type Client struct {
	rdb           *redis.Client
	releaseScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return newClient(rdb), nil
}

func newClient(rdb *redis.Client) *Client {
	return &Client{
		rdb:           rdb,
		releaseScript: redis.NewScript(releaseLockScript),
	}
}

// Ping checks the connection for readiness probes
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Lock is an owned distributed lock
type Lock struct {
	c     *Client
	key   string
	token string
}

// AcquireLock takes lock:<name> with a random owner token. It returns
// ErrLockHeld when the lock is taken.
func (c *Client) AcquireLock(ctx context.Context, name string, ttl time.Duration) (*Lock, error) {
	key := fmt.Sprintf("lock:%s", name)
	token := uuid.NewString()

	ok, err := c.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &Lock{c: c, key: key, token: token}, nil
}

// AcquireLockWait retries AcquireLock until it succeeds or ctx is done
func (c *Client) AcquireLockWait(ctx context.Context, name string, ttl, retry time.Duration) (*Lock, error) {
	for {
		lock, err := c.AcquireLock(ctx, name, ttl)
		if !errors.Is(err, ErrLockHeld) {
			return lock, err
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire lock %s: %w", name, ctx.Err())
		case <-time.After(retry):
		}
	}
}

// Release deletes the lock only if this owner still holds it
func (l *Lock) Release(ctx context.Context) error {
	if _, err := l.c.releaseScript.Run(ctx, l.c.rdb, []string{l.key}, l.token).Result(); err != nil {
		return fmt.Errorf("release lock script failed: %w", err)
	}
	return nil
}

// SetIdempotencyKey stores an idempotency key with TTL
func (c *Client) SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("idempotency:%s", key), value, ttl).Err()
}

// CheckIdempotencyKey checks if an idempotency key exists
func (c *Client) CheckIdempotencyKey(ctx context.Context, key string) (bool, error) {
	result, err := c.rdb.Exists(ctx, fmt.Sprintf("idempotency:%s", key)).Result()
	if err != nil {
		return false, err
	}
	return result > 0, nil
}

func bookedRangesVersionKey(toolID string) string {
	return fmt.Sprintf("booked:%s:version", toolID)
}

func bookedRangesKey(toolID string, version int64) string {
	return fmt.Sprintf("booked:%s:v%d", toolID, version)
}

func (c *Client) bookedRangesVersion(ctx context.Context, toolID string) (int64, error) {
	version, err := c.rdb.Get(ctx, bookedRangesVersionKey(toolID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return version, err
}

// CacheBookedRanges stores ranges read under version. A write for a version
// that has since been invalidated lands on a key no reader uses.
func (c *Client) CacheBookedRanges(ctx context.Context, toolID string, version int64, ranges []models.DateRange, ttl time.Duration) error {
	data, err := json.Marshal(ranges)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, bookedRangesKey(toolID, version), data, ttl).Err()
}

// GetCachedBookedRanges returns the cached ranges for the current version,
// or ok=false on a miss. The version is returned either way so a miss can be
// filled with CacheBookedRanges.
func (c *Client) GetCachedBookedRanges(ctx context.Context, toolID string) ([]models.DateRange, int64, bool, error) {
	version, err := c.bookedRangesVersion(ctx, toolID)
	if err != nil {
		return nil, 0, false, err
	}

	data, err := c.rdb.Get(ctx, bookedRangesKey(toolID, version)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, version, false, nil
	}
	if err != nil {
		return nil, version, false, err
	}

	var ranges []models.DateRange
	if err := json.Unmarshal(data, &ranges); err != nil {
		return nil, version, false, err
	}
	return ranges, version, true, nil
}

// InvalidateBookedRanges bumps the tool's cache version
func (c *Client) InvalidateBookedRanges(ctx context.Context, toolID string) error {
	return c.rdb.Incr(ctx, bookedRangesVersionKey(toolID)).Err()
}
