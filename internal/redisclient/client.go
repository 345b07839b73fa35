package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

//go:embed scripts/set_availability.lua
var setAvailabilityScript string

type Client struct {
	rdb           *redis.Client
	releaseScript *redis.Script
	setScript     *redis.Script
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

	return NewFromRedis(rdb), nil
}

// NewFromRedis wraps an existing go-redis client
func NewFromRedis(rdb *redis.Client) *Client {
	return &Client{
		rdb:           rdb,
		releaseScript: redis.NewScript(releaseLockScript),
		setScript:     redis.NewScript(setAvailabilityScript),
	}
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the Redis connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func availabilityKey(productID uuid.UUID) string {
	return fmt.Sprintf("availability:{%s}", productID)
}

func generationKey(productID uuid.UUID) string {
	return fmt.Sprintf("availability:{%s}:gen", productID)
}

// GetAvailability returns the cached sellable quantity of a product together with the
// product's cache generation. The boolean is false on a cache miss; the generation is
// still valid then and must be handed back to SetAvailability.
func (c *Client) GetAvailability(ctx context.Context, productID uuid.UUID) (int, int64, bool, error) {
	vals, err := c.rdb.MGet(ctx, availabilityKey(productID), generationKey(productID)).Result()
	if err != nil {
		return 0, 0, false, err
	}

	var generation int64
	if raw, ok := vals[1].(string); ok {
		if generation, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return 0, 0, false, fmt.Errorf("corrupt availability generation for %s: %w", productID, err)
		}
	}

	raw, ok := vals[0].(string)
	if !ok {
		return 0, generation, false, nil
	}
	qty, err := strconv.Atoi(raw)
	if err != nil {
		return 0, 0, false, fmt.Errorf("corrupt availability entry for %s: %w", productID, err)
	}
	return qty, generation, true, nil
}

// SetAvailability caches the sellable quantity of a product read at the given generation.
// Nothing is stored if the product was invalidated since, so a slow reader cannot put a
// quantity back that a checkout already changed. It reports whether the entry was stored.
func (c *Client) SetAvailability(ctx context.Context, productID uuid.UUID, qty int, generation int64, ttl time.Duration) (bool, error) {
	stored, err := c.setScript.Run(ctx, c.rdb,
		[]string{availabilityKey(productID), generationKey(productID)},
		generation, qty, ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("set availability script failed: %w", err)
	}
	return stored == 1, nil
}

// InvalidateAvailability drops cached quantities after a stock change and bumps their
// generation
func (c *Client) InvalidateAvailability(ctx context.Context, productIDs ...uuid.UUID) error {
	if len(productIDs) == 0 {
		return nil
	}
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range productIDs {
			pipe.Del(ctx, availabilityKey(id))
			pipe.Incr(ctx, generationKey(id))
		}
		return nil
	})
	return err
}

// AcquireLock takes a short-lived lock and returns the owner token needed to release it.
// ok is false when another owner holds the lock.
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (token string, ok bool, err error) {
	token = uuid.NewString()
	ok, err = c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// ReleaseLock releases a lock only if token still owns it
func (c *Client) ReleaseLock(ctx context.Context, lockKey, token string) error {
	_, err := c.releaseScript.Run(ctx, c.rdb, []string{fmt.Sprintf("lock:%s", lockKey)}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock script failed: %w", err)
	}
	return nil
}
