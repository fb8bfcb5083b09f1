package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/property-weather-service/internal/models"
	"github.com/kjstillabower/property-weather-service/internal/observability"
	"github.com/kjstillabower/property-weather-service/internal/workerpool"
)

// ReadingFetcher is implemented by the service layer. Fetching through it
// populates the cache as a side effect.
type ReadingFetcher interface {
	GetReading(ctx context.Context, c models.Coordinate) (models.WeatherReading, error)
}

// CoordinateSource lists the coordinates worth keeping warm, typically every
// distinct property location.
type CoordinateSource func(ctx context.Context) ([]models.Coordinate, error)

// CacheWarmer prefetches weather for property coordinates so the first
// weather-filtered listing does not pay for every upstream call.
type CacheWarmer struct {
	fetcher     ReadingFetcher
	logger      *zap.Logger
	concurrency int
}

// NewCacheWarmer creates a CacheWarmer that runs at most concurrency fetches at a time.
func NewCacheWarmer(fetcher ReadingFetcher, logger *zap.Logger, concurrency int) *CacheWarmer {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &CacheWarmer{fetcher: fetcher, logger: logger, concurrency: concurrency}
}

// Warm fetches a reading for each coordinate. Coordinates sharing a cache key are
// fetched once. Returns the joined errors of failed coordinates.
func (w *CacheWarmer) Warm(ctx context.Context, coords []models.Coordinate) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()

	seen := make(map[string]struct{}, len(coords))
	unique := coords[:0:0]
	for _, c := range coords {
		if _, ok := seen[c.Key()]; ok {
			continue
		}
		seen[c.Key()] = struct{}{}
		unique = append(unique, c)
	}
	if w.logger != nil {
		w.logger.Info("warming cache", zap.Int("coordinates", len(unique)))
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	pool := workerpool.New(w.concurrency)
	for _, c := range unique {
		pool.Submit(func() {
			if _, err := w.fetcher.GetReading(ctx, c); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("warm %s: %w", c.Key(), err))
				mu.Unlock()
			}
		})
	}
	pool.Wait()

	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	if w.logger != nil {
		w.logger.Info("cache warming complete", zap.Int("coordinates", len(unique)), zap.Int("errors", len(errs)), zap.Float64("duration_seconds", duration))
	}
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: %w", errors.Join(errs...))
	}
	return nil
}

// WarmPeriodic reloads coordinates from source and warms them, first immediately
// and then every interval, until ctx is done.
func (w *CacheWarmer) WarmPeriodic(ctx context.Context, source CoordinateSource, interval time.Duration) error {
	w.warmFrom(ctx, source)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.warmFrom(ctx, source)
		}
	}
}

func (w *CacheWarmer) warmFrom(ctx context.Context, source CoordinateSource) {
	coords, err := source(ctx)
	if err != nil {
		if w.logger != nil {
			w.logger.Warn("cache warming: list coordinates", zap.Error(err))
		}
		return
	}
	if err := w.Warm(ctx, coords); err != nil && w.logger != nil {
		w.logger.Warn("cache warming failed", zap.Error(err))
	}
}
