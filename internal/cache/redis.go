package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Akoredejo/SentinelShield/internal/domain"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "sentinel:"

// incrWindow increments a counter and arms its expiry on the first hit so
// the window is anchored at the first trade, not the latest.
var incrWindow = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])
	if current == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return current
`)

// RedisCache implements domain.Cache on Redis.
// It serves the pro tier and the L2 side of TwoPhaseCache.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to addr and verifies the connection.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// Get returns the value for key, or nil when Redis has no such key.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Set stores value under key with ttl.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, keyPrefix+key, value, ttl).Err()
}

// Delete removes key.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, keyPrefix+key).Err()
}

// GetProfile returns the cached profile for trader, or nil on a miss.
func (c *RedisCache) GetProfile(ctx context.Context, trader string) (*domain.TraderProfile, error) {
	return loadProfile(ctx, c, trader)
}

// SetProfile caches p for ttl.
func (c *RedisCache) SetProfile(ctx context.Context, p *domain.TraderProfile, ttl time.Duration) error {
	return storeProfile(ctx, c, p, ttl)
}

// IncrementCounter runs the windowed INCR script for key.
func (c *RedisCache) IncrementCounter(ctx context.Context, key string, span time.Duration) (int64, error) {
	return incrWindow.Run(ctx, c.client, []string{keyPrefix + "counter:" + key}, span.Milliseconds()).Int64()
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
