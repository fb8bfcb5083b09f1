package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kjstillabower/property-weather-service/internal/models"
)

// RedisCache implements Cache on top of Redis string keys with PX expiry.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to addr and verifies the connection with PING.
func NewRedisCache(ctx context.Context, addr, password string, db int, timeout time.Duration) (*RedisCache, error) {
	opts := &redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}
	if timeout > 0 {
		opts.DialTimeout = timeout
		opts.ReadTimeout = timeout
		opts.WriteTimeout = timeout
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &RedisCache{client: client}, nil
}

// NewRedisCacheFromClient wraps an existing client. The caller owns its lifecycle.
func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get implements Cache.Get.
func (c *RedisCache) Get(ctx context.Context, key string) (models.WeatherReading, bool, error) {
	raw, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.WeatherReading{}, false, nil
	}
	if err != nil {
		return models.WeatherReading{}, false, err
	}
	r, err := decodeReading(raw)
	if err != nil {
		return models.WeatherReading{}, false, err
	}
	return r, true, nil
}

// Set implements Cache.Set.
func (c *RedisCache) Set(ctx context.Context, key string, value models.WeatherReading, ttl time.Duration) error {
	raw, err := encodeReading(value)
	if err != nil {
		return err
	}
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	return c.client.Set(ctx, keyPrefix+key, raw, ttl).Err()
}

// Ping checks that Redis answers. Used for health checks.
func (c *RedisCache) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
