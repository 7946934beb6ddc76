package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type item struct {
	value     any
	expiresAt time.Time
	lastUsed  time.Time
}

// MemoryCache is an in-process TTL cache with LRU eviction at capacity and a
// periodic janitor for expired entries.
type MemoryCache struct {
	mu      sync.Mutex
	items   map[string]*item
	maxSize int
	ttl     time.Duration
	logger  *zap.Logger
	janitor *time.Ticker
	stopCh  chan struct{}
}

// NewMemoryCache builds a cache holding at most maxSize entries with the
// given default TTL.
func NewMemoryCache(maxSize int, ttl time.Duration, logger *zap.Logger) *MemoryCache {
	c := &MemoryCache{
		items:   make(map[string]*item),
		maxSize: maxSize,
		ttl:     ttl,
		logger:  logger,
		janitor: time.NewTicker(1 * time.Minute),
		stopCh:  make(chan struct{}),
	}
	go c.sweep()
	return c
}

func (c *MemoryCache) Get(ctx context.Context, key string) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.items[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	if time.Now().After(it.expiresAt) {
		delete(c.items, key)
		return nil, ErrCacheMiss
	}

	it.lastUsed = time.Now()
	return it.value, nil
}

func (c *MemoryCache) Set(ctx context.Context, key string, value any) error {
	return c.SetWithTTL(ctx, key, value, c.ttl)
}

func (c *MemoryCache) SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.items) >= c.maxSize {
		c.evictLRU()
	}

	now := time.Now()
	c.items[key] = &item{value: value, expiresAt: now.Add(ttl), lastUsed: now}
	return nil
}

func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}

func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *MemoryCache) Close() error {
	c.janitor.Stop()
	close(c.stopCh)
	return nil
}

// evictLRU drops the least recently used entry. Caller holds the lock.
func (c *MemoryCache) evictLRU() {
	var oldestKey string
	var oldestTime time.Time
	for key, it := range c.items {
		if oldestKey == "" || it.lastUsed.Before(oldestTime) {
			oldestKey = key
			oldestTime = it.lastUsed
		}
	}
	if oldestKey != "" {
		delete(c.items, oldestKey)
	}
}

func (c *MemoryCache) sweep() {
	for {
		select {
		case <-c.janitor.C:
			c.mu.Lock()
			now := time.Now()
			for key, it := range c.items {
				if now.After(it.expiresAt) {
					delete(c.items, key)
				}
			}
			c.mu.Unlock()
		case <-c.stopCh:
			return
		}
	}
}
