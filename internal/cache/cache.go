package cache

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/property-weather-service/internal/models"
)

// Backend names accepted by configuration.
const (
	BackendInMemory  = "in_memory"
	BackendMemcached = "memcached"
	BackendRedis     = "redis"
)

// Cache stores weather readings keyed by rounded coordinate.
// Get returns (reading, true, nil) only for entries younger than their TTL.
type Cache interface {
	Get(ctx context.Context, key string) (models.WeatherReading, bool, error)
	Set(ctx context.Context, key string, value models.WeatherReading, ttl time.Duration) error
}

// Pinger is implemented by backends that live outside the process.
type Pinger interface {
	Ping() error
}

// InMemoryCache implements Cache with a map and lazy TTL expiry.
// Stale entries are removed by the Get that finds them; there is no background sweep
// and no size bound.
type InMemoryCache struct {
	mu   sync.Mutex
	data map[string]cacheEntry
	now  func() time.Time
}

type cacheEntry struct {
	value     models.WeatherReading
	expiresAt time.Time
}

// NewInMemoryCache creates an empty in-memory cache.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]cacheEntry),
		now:  time.Now,
	}
}

// Get returns the reading for key if present and fresh.
func (c *InMemoryCache) Get(ctx context.Context, key string) (models.WeatherReading, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok {
		return models.WeatherReading{}, false, nil
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.data, key)
		return models.WeatherReading{}, false, nil
	}
	return entry.value, true, nil
}

// Set stores value under key until ttl elapses. An existing entry is overwritten.
func (c *InMemoryCache) Set(ctx context.Context, key string, value models.WeatherReading, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = cacheEntry{
		value:     value,
		expiresAt: c.now().Add(ttl),
	}
	return nil
}

// Len returns the number of stored entries, including stale ones not yet looked up.
func (c *InMemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}
