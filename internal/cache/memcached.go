package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/kjstillabower/property-weather-service/internal/models"
)

// maxRelativeExp is memcached's limit for relative expirations; larger values are read as unix time.
const maxRelativeExp = 30 * 24 * 60 * 60

// MemcachedCache implements Cache using memcached. Expiry is enforced by the server.
type MemcachedCache struct {
	client *memcache.Client
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). Zero timeout and
// maxIdleConns keep the client defaults.
func NewMemcachedCache(addrs string, timeout time.Duration, maxIdleConns int) (*MemcachedCache, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedCache{client: client}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// Get implements Cache.Get. A cache miss is (zero, false, nil).
func (c *MemcachedCache) Get(ctx context.Context, key string) (models.WeatherReading, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.WeatherReading{}, false, err
	}
	item, err := c.client.Get(keyPrefix + key)
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return models.WeatherReading{}, false, nil
		}
		return models.WeatherReading{}, false, err
	}
	r, err := decodeReading(item.Value)
	if err != nil {
		return models.WeatherReading{}, false, err
	}
	return r, true, nil
}

// Set implements Cache.Set. TTLs below one second round up to one second.
func (c *MemcachedCache) Set(ctx context.Context, key string, value models.WeatherReading, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := encodeReading(value)
	if err != nil {
		return err
	}
	exp := int32(ttl / time.Second)
	if exp <= 0 {
		exp = 1
	}
	if exp > maxRelativeExp {
		exp = maxRelativeExp
	}
	return c.client.Set(&memcache.Item{
		Key:        keyPrefix + key,
		Value:      raw,
		Expiration: exp,
	})
}

// Ping checks if memcached is reachable. Used for health checks.
func (c *MemcachedCache) Ping() error {
	return c.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (c *MemcachedCache) Close() error {
	return c.client.Close()
}
