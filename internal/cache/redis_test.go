package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/kjstillabower/property-weather-service/internal/models"
)

func newMiniredisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCacheFromClient(client), mr
}

func TestRedisCache_SetGet(t *testing.T) {
	c, mr := newMiniredisCache(t)
	ctx := context.Background()

	val := models.WeatherReading{Temperature: -3, WindSpeed: 7.5, WeatherCode: 73, WeatherCondition: "snowy", Time: "2024-01-10T06:00", Humidity: 90}
	if err := c.Set(ctx, "61.22,-149.90", val, 5*time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok, err := c.Get(ctx, "61.22,-149.90")
	if err != nil || !ok {
		t.Fatalf("Get() = (%v, %v), want hit", ok, err)
	}
	if got != val {
		t.Errorf("Get() = %+v, want %+v", got, val)
	}
	if !mr.Exists(keyPrefix + "61.22,-149.90") {
		t.Errorf("keys = %v, want %s prefix", mr.Keys(), keyPrefix)
	}
	if ttl := mr.TTL(keyPrefix + "61.22,-149.90"); ttl != 5*time.Minute {
		t.Errorf("TTL = %v, want 5m", ttl)
	}
}

func TestRedisCache_Miss(t *testing.T) {
	c, _ := newMiniredisCache(t)

	_, ok, err := c.Get(context.Background(), "0.00,0.00")
	if err != nil || ok {
		t.Errorf("Get() = (%v, %v), want clean miss", ok, err)
	}
}

func TestRedisCache_Expires(t *testing.T) {
	c, mr := newMiniredisCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "43.07,-89.40", models.WeatherReading{Temperature: 20}, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	mr.FastForward(59 * time.Second)
	if _, ok, _ := c.Get(ctx, "43.07,-89.40"); !ok {
		t.Fatal("Get() before TTL = miss, want hit")
	}
	mr.FastForward(2 * time.Second)
	if _, ok, err := c.Get(ctx, "43.07,-89.40"); err != nil || ok {
		t.Errorf("Get() after TTL = (%v, %v), want miss", ok, err)
	}
}

func TestRedisCache_TinyTTLIsClamped(t *testing.T) {
	c, mr := newMiniredisCache(t)

	if err := c.Set(context.Background(), "1.00,1.00", models.WeatherReading{}, 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if ttl := mr.TTL(keyPrefix + "1.00,1.00"); ttl != time.Millisecond {
		t.Errorf("TTL = %v, want 1ms", ttl)
	}
}

func TestRedisCache_CorruptValue(t *testing.T) {
	c, mr := newMiniredisCache(t)
	if err := mr.Set(keyPrefix+"42.36,-71.06", "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, ok, err := c.Get(context.Background(), "42.36,-71.06")
	if err == nil || ok {
		t.Errorf("Get() = (%v, %v), want decode error", ok, err)
	}
}

func TestRedisCache_Ping(t *testing.T) {
	c, mr := newMiniredisCache(t)

	if err := c.Ping(); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	mr.Close()
	if err := c.Ping(); err == nil {
		t.Error("Ping() after server stop = nil, want error")
	}
}
