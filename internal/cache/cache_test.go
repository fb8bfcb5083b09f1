package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kjstillabower/property-weather-service/internal/models"
)

func newTestCache() (*InMemoryCache, *time.Time) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewInMemoryCache()
	c.now = func() time.Time { return now }
	return c, &now
}

// TestInMemoryCache_GetSet verifies that Set stores values and Get retrieves
// them correctly with the expected data.
func TestInMemoryCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache()

	val := models.WeatherReading{Temperature: 12.5, Humidity: 60, WeatherCode: 3}
	if err := c.Set(ctx, "37.77,-122.42", val, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok, err := c.Get(ctx, "37.77,-122.42")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if got != val {
		t.Errorf("Get() = %+v, want %+v", got, val)
	}
}

func TestInMemoryCache_Get_Miss(t *testing.T) {
	c, _ := newTestCache()

	_, ok, err := c.Get(context.Background(), "0.00,0.00")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for miss")
	}
}

// TestInMemoryCache_TTLBoundary verifies an entry is fresh just before its TTL,
// stale exactly at it, and removed by the lookup that finds it stale.
func TestInMemoryCache_TTLBoundary(t *testing.T) {
	ctx := context.Background()
	c, now := newTestCache()

	if err := c.Set(ctx, "k", models.WeatherReading{Temperature: 1}, 5*time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	*now = now.Add(5*time.Minute - time.Nanosecond)
	if _, ok, _ := c.Get(ctx, "k"); !ok {
		t.Fatal("Get() just before TTL ok = false, want true")
	}

	*now = now.Add(time.Nanosecond)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatal("Get() at TTL ok = true, want false")
	}
	if c.Len() != 0 {
		t.Errorf("Len() after stale lookup = %d, want 0", c.Len())
	}
}

// TestInMemoryCache_StaleOverwritten verifies that a stale entry is replaced by
// the next Set and becomes fresh again.
func TestInMemoryCache_StaleOverwritten(t *testing.T) {
	ctx := context.Background()
	c, now := newTestCache()

	_ = c.Set(ctx, "k", models.WeatherReading{Temperature: 1}, time.Minute)
	*now = now.Add(2 * time.Minute)
	_ = c.Set(ctx, "k", models.WeatherReading{Temperature: 2}, time.Minute)

	got, ok, _ := c.Get(ctx, "k")
	if !ok || got.Temperature != 2 {
		t.Errorf("Get() = (%+v, %v), want temperature 2 and ok", got, ok)
	}
}

func TestInMemoryCache_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = c.Set(ctx, "shared", models.WeatherReading{WeatherCode: i}, time.Minute)
			_, _, _ = c.Get(ctx, "shared")
		}(i)
	}
	wg.Wait()

	if _, ok, _ := c.Get(ctx, "shared"); !ok {
		t.Error("Get() ok = false after concurrent writes, want true")
	}
}
