package service

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/property-weather-service/internal/models"
)

// call is one upstream fetch that concurrent lookups for the same key share.
type call struct {
	done   chan struct{}
	result models.WeatherReading
	err    error
}

// requestCoalescer collapses concurrent misses for one cache key into a single
// upstream call. Callers stop waiting after timeout or when their context ends;
// the shared call itself keeps running for the remaining waiters.
type requestCoalescer struct {
	mu       sync.Mutex
	inFlight map[string]*call
	timeout  time.Duration
}

func newRequestCoalescer(timeout time.Duration) *requestCoalescer {
	return &requestCoalescer{
		inFlight: make(map[string]*call),
		timeout:  timeout,
	}
}

// GetOrDo returns the result of fn for key, starting fn only when no call for key
// is in flight. shared is true when the caller joined an existing call.
func (rc *requestCoalescer) GetOrDo(ctx context.Context, key string, fn func() (models.WeatherReading, error)) (result models.WeatherReading, shared bool, err error) {
	rc.mu.Lock()
	c, shared := rc.inFlight[key]
	if !shared {
		c = &call{done: make(chan struct{})}
		rc.inFlight[key] = c
		go rc.run(key, c, fn)
	}
	rc.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()
	select {
	case <-c.done:
		return c.result, shared, c.err
	case <-waitCtx.Done():
		return models.WeatherReading{}, shared, waitCtx.Err()
	}
}

func (rc *requestCoalescer) run(key string, c *call, fn func() (models.WeatherReading, error)) {
	c.result, c.err = fn()

	rc.mu.Lock()
	delete(rc.inFlight, key)
	rc.mu.Unlock()
	close(c.done)
}
