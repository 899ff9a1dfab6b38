package cache

import (
	"context"
	"sync"
	"time"

	"github.com/adventureadjacent/mapcase-weather/internal/models"
)

// Cache is a short-TTL front for assembled forecast bundles, keyed by the
// normalized query coordinate. Get returns the bundle if present and not
// expired; Set stores it with a TTL.
type Cache interface {
	Get(ctx context.Context, key string) (models.ForecastBundle, bool, error)
	Set(ctx context.Context, key string, value models.ForecastBundle, ttl time.Duration) error
}

// InMemoryCache implements Cache with a map and TTL-based expiration.
// Expired entries are removed on access. Safe for concurrent use.
type InMemoryCache struct {
	mu   sync.Mutex
	data map[string]cacheEntry
}

type cacheEntry struct {
	value     models.ForecastBundle
	expiresAt time.Time
}

// NewInMemoryCache creates an in-memory bundle cache.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]cacheEntry),
	}
}

// Get returns the cached bundle for key if present and not expired.
// Expired entries are removed on access.
func (c *InMemoryCache) Get(ctx context.Context, key string) (models.ForecastBundle, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok {
		return models.ForecastBundle{}, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.data, key)
		return models.ForecastBundle{}, false, nil
	}
	return entry.value, true, nil
}

// Set stores the bundle with the given TTL.
func (c *InMemoryCache) Set(ctx context.Context, key string, value models.ForecastBundle, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = cacheEntry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}
