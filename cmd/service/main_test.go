package main

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/property-weather-service/internal/cache"
	"github.com/kjstillabower/property-weather-service/internal/circuitbreaker"
	"github.com/kjstillabower/property-weather-service/internal/config"
	"github.com/kjstillabower/property-weather-service/internal/events"
	"github.com/kjstillabower/property-weather-service/internal/testhelpers"
)

func TestNewCache_InMemory(t *testing.T) {
	c, closer, err := newCache(context.Background(), &config.Config{CacheBackend: config.CacheBackendInMemory})
	if err != nil {
		t.Fatalf("newCache() error = %v", err)
	}
	if _, ok := c.(*cache.InMemoryCache); !ok {
		t.Errorf("cache = %T, want *cache.InMemoryCache", c)
	}
	if closer != nil {
		t.Errorf("closer = %v, want nil", closer)
	}
}

func TestNewPublisher(t *testing.T) {
	if _, ok := newPublisher(&config.Config{}, zap.NewNop()).(events.NopPublisher); !ok {
		t.Error("disabled events should yield NopPublisher")
	}

	p := newPublisher(&config.Config{EventsEnabled: true, KafkaBrokers: []string{"localhost:9092"}, EventsTopic: "t"}, zap.NewNop())
	if _, ok := p.(*events.KafkaPublisher); !ok {
		t.Fatalf("publisher = %T, want *events.KafkaPublisher", p)
	}
	_ = p.Close()
}

func TestNewCircuitBreaker_LogsTransitions(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	cb := newCircuitBreaker(&config.Config{
		CircuitBreakerFailureThreshold: 1,
		CircuitBreakerSuccessThreshold: 1,
		CircuitBreakerTimeout:          time.Minute,
	}, zap.New(core))
	if cb.Component() != "weather_api" {
		t.Errorf("Component() = %q, want weather_api", cb.Component())
	}

	_ = cb.Call(context.Background(), func() error { return errors.New("boom") })

	if cb.State() != circuitbreaker.StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}
	if logs.FilterMessage("circuit breaker state change").Len() != 1 {
		t.Errorf("transition logs = %v", logs.All())
	}
}

type failingCloser struct{ closed bool }

func (f *failingCloser) Close() error {
	f.closed = true
	return errors.New("close failed")
}

func TestCloseAll(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	fc := &failingCloser{}
	var nilCloser io.Closer

	closeAll(zap.New(core), map[string]io.Closer{"store": fc, "cache": nilCloser})

	if !fc.closed {
		t.Error("closer not called")
	}
	if logs.FilterMessage("close store").Len() != 1 || logs.Len() != 1 {
		t.Errorf("logs = %v", logs.All())
	}
}

func TestStartCacheWarming_PrefetchesStoredCoordinates(t *testing.T) {
	stack := testhelpers.NewStack(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startCacheWarming(ctx, &config.Config{CacheWarm: true, MaxConcurrentFetches: 2}, stack.Weather, stack.Store, zap.NewNop())

	// Lakeside, Downtown, Harbor and 0,0 have coordinates.
	deadline := time.Now().Add(5 * time.Second)
	for stack.Cache.Len() < 4 {
		if time.Now().After(deadline) {
			t.Fatalf("cache holds %d readings, want 4", stack.Cache.Len())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := stack.Upstream.Calls(); got != 4 {
		t.Errorf("upstream calls = %d, want 4", got)
	}
}
