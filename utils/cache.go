// utils/cache.go
package utils

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// NoExpiration keeps an entry until it is deleted or purged.
const NoExpiration time.Duration = -1

// Cache is the get/set/delete/purge abstraction coinsync caches go through.
type Cache interface {
	Get(key string) (any, bool)
	Set(key string, value any, ttl time.Duration)
	Delete(key string)
	Purge()
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	c *gocache.Cache
}

// NewMemoryCache returns a cache whose entries default to ttl.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl == 0 {
		ttl = NoExpiration
	}
	return &MemoryCache{c: gocache.New(ttl, 10*time.Minute)}
}

func (m *MemoryCache) Get(key string) (any, bool) { return m.c.Get(key) }

// Set stores value; a zero ttl uses the cache default.
func (m *MemoryCache) Set(key string, value any, ttl time.Duration) {
	if ttl == 0 {
		ttl = gocache.DefaultExpiration
	}
	m.c.Set(key, value, ttl)
}

func (m *MemoryCache) Delete(key string) { m.c.Delete(key) }

func (m *MemoryCache) Purge() { m.c.Flush() }
