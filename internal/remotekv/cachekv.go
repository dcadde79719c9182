package remotekv

import (
	"context"
	"time"

	cache "github.com/patrickmn/go-cache"
)

// Cache is a local in-memory implementation of the [Interface] interface.
// It is used when no Redis address is configured.
type Cache struct {
	cache *cache.Cache
}

// CacheConfig is the configuration for the local in-memory [Interface]
// implementation.
type CacheConfig struct {
	// CleanupInterval is how often expired entries are purged.
	CleanupInterval time.Duration
}

// NewCache returns a new *Cache.  c must not be nil.
func NewCache(c *CacheConfig) (kv *Cache) {
	return &Cache{
		cache: cache.New(cache.NoExpiration, c.CleanupInterval),
	}
}

// type check
var _ Interface = (*Cache)(nil)

// Get implements the [Interface] interface for *Cache.
func (kv *Cache) Get(_ context.Context, key string) (val []byte, ok bool, err error) {
	v, ok := kv.cache.Get(key)
	if !ok {
		return nil, false, nil
	}

	return v.([]byte), true, nil
}

// Set implements the [Interface] interface for *Cache.
func (kv *Cache) Set(_ context.Context, key string, val []byte, ttl time.Duration) (err error) {
	kv.cache.Set(key, val, ttl)

	return nil
}
