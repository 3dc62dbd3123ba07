// Package cache provides the read-through caches and rolling counters used
// by SentinelShield.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/Akoredejo/SentinelShield/internal/domain"
)

// LRUCache is a bounded in-process cache with per-entry expiry.
// It serves the community tier and the L1 side of TwoPhaseCache.
type LRUCache struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*list.Element
	order   *list.List
	windows map[string]*window
	nowFunc func() time.Time
}

type lruEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

type window struct {
	count   int64
	resetAt time.Time
}

// NewLRUCache creates an LRU cache holding at most maxSize entries.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &LRUCache{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
		windows: make(map[string]*window),
		nowFunc: time.Now,
	}
}

// Get returns the value for key, or nil on a miss or expired entry.
func (c *LRUCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, nil
	}

	entry := elem.Value.(*lruEntry)
	if c.nowFunc().After(entry.expiresAt) {
		c.evict(elem)
		return nil, nil
	}

	c.order.MoveToFront(elem)
	return entry.value, nil
}

// Set stores value under key until ttl elapses.
func (c *LRUCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.nowFunc().Add(ttl)

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*lruEntry)
		entry.value = value
		entry.expiresAt = expiresAt
		c.order.MoveToFront(elem)
		return nil
	}

	c.items[key] = c.order.PushFront(&lruEntry{key: key, value: value, expiresAt: expiresAt})
	for c.order.Len() > c.maxSize {
		c.evict(c.order.Back())
	}
	return nil
}

// Delete drops key if present.
func (c *LRUCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.evict(elem)
	}
	return nil
}

// GetProfile returns the cached profile for trader, or nil on a miss.
func (c *LRUCache) GetProfile(ctx context.Context, trader string) (*domain.TraderProfile, error) {
	return loadProfile(ctx, c, trader)
}

// SetProfile caches p for ttl.
func (c *LRUCache) SetProfile(ctx context.Context, p *domain.TraderProfile, ttl time.Duration) error {
	return storeProfile(ctx, c, p, ttl)
}

// IncrementCounter bumps the counter for key. A counter whose window has
// elapsed starts again at 1. At most maxSize counters are kept; when full,
// expired windows are swept and then the one closest to reset is dropped.
func (c *LRUCache) IncrementCounter(ctx context.Context, key string, span time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFunc()
	w, ok := c.windows[key]
	if !ok || !now.Before(w.resetAt) {
		if !ok && len(c.windows) >= c.maxSize {
			c.pruneWindows(now)
		}
		c.windows[key] = &window{count: 1, resetAt: now.Add(span)}
		return 1, nil
	}

	w.count++
	return w.count, nil
}

// Ping always succeeds for the in-process cache.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close drops every entry and counter.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.windows = make(map[string]*window)
	return nil
}

// Counters reports how many counter windows are held.
func (c *LRUCache) Counters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.windows)
}

// Stats reports the current entry count and capacity.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len(), c.maxSize
}

func (c *LRUCache) evict(elem *list.Element) {
	if elem == nil {
		return
	}
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*lruEntry).key)
}

func (c *LRUCache) pruneWindows(now time.Time) {
	var (
		oldestKey string
		oldest    time.Time
	)
	for k, w := range c.windows {
		if !now.Before(w.resetAt) {
			delete(c.windows, k)
			continue
		}
		if oldestKey == "" || w.resetAt.Before(oldest) {
			oldestKey, oldest = k, w.resetAt
		}
	}
	if len(c.windows) >= c.maxSize && oldestKey != "" {
		delete(c.windows, oldestKey)
	}
}
