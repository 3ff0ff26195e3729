package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/ppiankov/finverify/internal/model"
)

// MemoryCache implements Cache on top of go-cache with per-entry expiry
type MemoryCache struct {
	cache *gocache.Cache
}

// NewMemoryCache creates a new memory cache
func NewMemoryCache(defaultTTL time.Duration, cleanupInterval time.Duration) *MemoryCache {
	return &MemoryCache{
		cache: gocache.New(defaultTTL, cleanupInterval),
	}
}

// Get retrieves an entity's snapshot set
func (c *MemoryCache) Get(entity string) (map[string]model.MetricSnapshot, bool) {
	if val, found := c.cache.Get(CacheKey(entity)); found {
		return val.(map[string]model.MetricSnapshot), true
	}
	return nil, false
}

// Set stores an entity's snapshot set. A zero ttl uses the cache default.
func (c *MemoryCache) Set(entity string, snapshots map[string]model.MetricSnapshot, ttl time.Duration) {
	if ttl == 0 {
		ttl = gocache.DefaultExpiration
	}
	c.cache.Set(CacheKey(entity), snapshots, ttl)
}

// Invalidate drops an entity's cached set
func (c *MemoryCache) Invalidate(entity string) {
	c.cache.Delete(CacheKey(entity))
}

// Clear removes all values from the cache
func (c *MemoryCache) Clear() {
	c.cache.Flush()
}

// Len reports the number of cached entities, expired entries included until cleanup
func (c *MemoryCache) Len() int {
	return c.cache.ItemCount()
}
