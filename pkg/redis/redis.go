package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/kfirel/hiker/pkg/config"
	"github.com/redis/go-redis/v9"
)

// ClientInterface defines the Redis operations the application relies on.
// The notified-matches set only needs idempotent inserts and existence checks.
type ClientInterface interface {
	SetNXWithExpiration(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	GetString(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}

// Ensure Client implements ClientInterface
var _ ClientInterface = (*Client)(nil)

// Client wraps the Redis client
type Client struct {
	rdb *redis.Client
}

// NewRedisClient creates a new Redis client
func NewRedisClient(cfg *config.RedisConfig) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("unable to connect to redis: %w", err)
	}

	return &Client{rdb: client}, nil
}

// NewFromClient wraps an existing go-redis client. Used by tests with redismock.
func NewFromClient(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Cmdable exposes the underlying command interface for components that run
// their own scripts, like the rate limiter.
func (c *Client) Cmdable() redis.Cmdable {
	return c.rdb
}

// SetNXWithExpiration sets a key only if it does not exist yet. Returns true
// when this call created the key.
func (c *Client) SetNXWithExpiration(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, key, value, expiration).Result()
}

// GetString gets a string value by key
func (c *Client) GetString(ctx context.Context, key string) (string, error) {
	return c.rdb.Get(ctx, key).Result()
}

// Delete deletes keys
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	return c.rdb.Del(ctx, keys...).Err()
}

// Exists checks if a key exists
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	result, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return result > 0, nil
}

// Ping verifies connectivity; used by the readiness probe.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis client
func (c *Client) Close() error {
	return c.rdb.Close()
}
