package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Akoredejo/SentinelShield/internal/domain"
)

// New builds the cache selected by cfg.Type.
//   - "memory": LRUCache
//   - "redis":  RedisCache, wrapped in TwoPhaseCache when EnableTwoPhase is set
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// ProfileKey is the cache key of a trader profile.
func ProfileKey(trader string) string {
	return "profile:" + trader
}

type kv interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

func loadProfile(ctx context.Context, store kv, trader string) (*domain.TraderProfile, error) {
	data, err := store.Get(ctx, ProfileKey(trader))
	if err != nil || data == nil {
		return nil, err
	}

	var p domain.TraderProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode cached profile %s: %w", trader, err)
	}
	return &p, nil
}

func storeProfile(ctx context.Context, store kv, p *domain.TraderProfile, ttl time.Duration) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return store.Set(ctx, ProfileKey(p.Trader), data, ttl)
}

// TwoPhaseCache reads from a local LRU before falling back to Redis.
// Writes go to both; counters live only in Redis so every node sees the
// same trade frequency.
type TwoPhaseCache struct {
	local  *LRUCache
	remote *RedisCache
	l1TTL  time.Duration
}

// NewTwoPhaseCache creates a two-phase cache with LRU + Redis.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}
	return newTwoPhase(NewLRUCache(cfg.LocalMaxSize), remote, cfg.LocalTTL), nil
}

func newTwoPhase(local *LRUCache, remote *RedisCache, l1TTL time.Duration) *TwoPhaseCache {
	if l1TTL == 0 {
		l1TTL = 5 * time.Minute
	}
	return &TwoPhaseCache{local: local, remote: remote, l1TTL: l1TTL}
}

// Get checks L1, then L2, populating L1 on an L2 hit.
func (c *TwoPhaseCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.local.Get(ctx, key)
	if err != nil || val != nil {
		return val, err
	}

	val, err = c.remote.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		_ = c.local.Set(ctx, key, val, c.l1TTL)
	}
	return val, nil
}

// Set writes L1 with the shorter of ttl and the L1 TTL, and L2 with ttl.
func (c *TwoPhaseCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.local.Set(ctx, key, value, min(ttl, c.l1TTL)); err != nil {
		return err
	}
	return c.remote.Set(ctx, key, value, ttl)
}

// Delete removes key from both tiers.
func (c *TwoPhaseCache) Delete(ctx context.Context, key string) error {
	if err := c.local.Delete(ctx, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, key)
}

// GetProfile returns the cached profile for trader, or nil on a miss.
func (c *TwoPhaseCache) GetProfile(ctx context.Context, trader string) (*domain.TraderProfile, error) {
	return loadProfile(ctx, c, trader)
}

// SetProfile caches p in both tiers.
func (c *TwoPhaseCache) SetProfile(ctx context.Context, p *domain.TraderProfile, ttl time.Duration) error {
	return storeProfile(ctx, c, p, ttl)
}

// IncrementCounter delegates to Redis.
func (c *TwoPhaseCache) IncrementCounter(ctx context.Context, key string, span time.Duration) (int64, error) {
	return c.remote.IncrementCounter(ctx, key, span)
}

// Ping checks both L1 and L2 health.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("L1 ping failed: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

// Close closes both L1 and L2.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats returns L1 cache statistics.
func (c *TwoPhaseCache) Stats() (size int, capacity int) {
	return c.local.Stats()
}
