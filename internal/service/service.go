package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/property-weather-service/internal/cache"
	"github.com/kjstillabower/property-weather-service/internal/client"
	"github.com/kjstillabower/property-weather-service/internal/models"
	"github.com/kjstillabower/property-weather-service/internal/observability"
)

// WeatherService serves weather readings cache-first, falling back to the
// upstream client on a miss and caching successful readings only.
type WeatherService struct {
	client          client.WeatherClient
	cache           cache.Cache
	backend         string
	ttl             time.Duration
	stampedeTracker *stampedeTracker
	coalescer       *requestCoalescer
}

// Options configures a WeatherService.
type Options struct {
	// Backend labels cache metrics (in_memory, memcached, redis).
	Backend string
	TTL     time.Duration
	// CoalesceTimeout bounds how long a lookup waits on a shared upstream call.
	// Zero disables coalescing.
	CoalesceTimeout time.Duration
}

// NewWeatherService creates a WeatherService. A zero TTL defaults to five minutes.
func NewWeatherService(c client.WeatherClient, wc cache.Cache, opts Options) *WeatherService {
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}
	if opts.Backend == "" {
		opts.Backend = cache.BackendInMemory
	}
	var coalescer *requestCoalescer
	if opts.CoalesceTimeout > 0 {
		coalescer = newRequestCoalescer(opts.CoalesceTimeout)
	}
	return &WeatherService{
		client:          c,
		cache:           wc,
		backend:         opts.Backend,
		ttl:             opts.TTL,
		stampedeTracker: newStampedeTracker(),
		coalescer:       coalescer,
	}
}

// GetReading returns the current reading for coord. The cache is keyed by the
// coordinate rounded to two decimals; the upstream call uses coord unrounded.
// Cache failures degrade to an upstream fetch and never fail the lookup.
func (s *WeatherService) GetReading(ctx context.Context, coord models.Coordinate) (models.WeatherReading, error) {
	key := coord.Key()
	start := time.Now()
	logger := observability.LoggerFromContext(ctx)

	getStart := time.Now()
	cached, ok, err := s.cache.Get(ctx, key)
	getDuration := time.Since(getStart).Seconds()
	switch {
	case err != nil:
		observability.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "error").Observe(getDuration)
		if logger != nil {
			logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		}
	case ok:
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "success").Observe(getDuration)
		observability.CacheHitsTotal.WithLabelValues(s.backend).Inc()
		if logger != nil {
			logger.Debug("weather served", zap.String("key", key), zap.Bool("cached", true), zap.Duration("duration", time.Since(start)))
		}
		return cached, nil
	default:
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "miss").Observe(getDuration)
	}
	observability.CacheMissesTotal.WithLabelValues(s.backend).Inc()

	if concurrent := s.stampedeTracker.RecordMiss(key); concurrent > 1 {
		observability.CacheStampedeDetectedTotal.Inc()
		observability.CacheStampedeConcurrency.Observe(float64(concurrent))
	}
	defer s.stampedeTracker.RecordHit(key)

	reading, err := s.fetch(ctx, key, coord)
	if err != nil {
		return models.WeatherReading{}, fmt.Errorf("fetch weather for %s: %w", key, err)
	}

	if logger != nil {
		logger.Debug("weather served", zap.String("key", key), zap.Bool("cached", false), zap.Duration("duration", time.Since(start)))
	}
	return reading, nil
}

// fetch calls upstream and stores the result. With coalescing enabled, only the
// caller that started the shared call writes the cache.
func (s *WeatherService) fetch(ctx context.Context, key string, coord models.Coordinate) (models.WeatherReading, error) {
	if s.coalescer == nil {
		reading, err := s.client.GetCurrentWeather(ctx, coord)
		if err != nil {
			return models.WeatherReading{}, err
		}
		s.store(ctx, key, reading)
		return reading, nil
	}

	shareCtx := context.WithoutCancel(ctx)
	reading, shared, err := s.coalescer.GetOrDo(ctx, key, func() (models.WeatherReading, error) {
		r, err := s.client.GetCurrentWeather(shareCtx, coord)
		if err == nil {
			s.store(shareCtx, key, r)
		}
		return r, err
	})
	if shared && err == nil {
		observability.RequestCoalescingHitsTotal.Inc()
	}
	return reading, err
}

func (s *WeatherService) store(ctx context.Context, key string, reading models.WeatherReading) {
	setStart := time.Now()
	if err := s.cache.Set(ctx, key, reading, s.ttl); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "error").Observe(time.Since(setStart).Seconds())
		if logger := observability.LoggerFromContext(ctx); logger != nil {
			logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
		}
		return
	}
	observability.CacheOperationDurationSeconds.WithLabelValues("set", "success").Observe(time.Since(setStart).Seconds())
}

// categorizeCacheError returns a stable label for cache error metrics.
func categorizeCacheError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return "timeout"
		}
		return "connection"
	}
	return "unknown"
}
