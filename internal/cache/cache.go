package cache

import (
	"sync"
	"time"
)

// Cache is a small in-process TTL cache for ops API reads. Entries expire
// after a fixed ttl; when the cache is full, expired entries are swept and
// arbitrary ones dropped. Freshness beats completeness here: the projection
// store stays authoritative and a dropped entry only costs one extra query.
type Cache struct {
	mu         sync.RWMutex
	ttl        time.Duration
	maxEntries int
	items      map[string]item
}

type item struct {
	val any
	exp time.Time
}

const defaultMaxEntries = 4096

func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}

	return &Cache{
		ttl:        ttl,
		maxEntries: defaultMaxEntries,
		items:      make(map[string]item),
	}
}

func (c *Cache) Get(key string) (any, bool) {
	now := time.Now()
	c.mu.RLock()
	it, ok := c.items[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if now.After(it.exp) {
		c.mu.Lock()
		delete(c.items, key)
		c.mu.Unlock()
		return nil, false
	}

	return it.val, true
}

func (c *Cache) Set(key string, val any) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.items) >= c.maxEntries {
		c.sweepLocked(now)
	}

	for k := range c.items {
		if len(c.items) < c.maxEntries {
			break
		}
		delete(c.items, k)
	}

	c.items[key] = item{val: val, exp: now.Add(c.ttl)}
}

func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

func (c *Cache) Clear() {
	c.mu.Lock()
	c.items = make(map[string]item)
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *Cache) sweepLocked(now time.Time) {
	for key, it := range c.items {
		if now.After(it.exp) {
			delete(c.items, key)
		}
	}
}
