package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/property-weather-service/internal/cache"
	"github.com/kjstillabower/property-weather-service/internal/circuitbreaker"
	"github.com/kjstillabower/property-weather-service/internal/client"
	"github.com/kjstillabower/property-weather-service/internal/config"
	"github.com/kjstillabower/property-weather-service/internal/events"
	httphandler "github.com/kjstillabower/property-weather-service/internal/http"
	"github.com/kjstillabower/property-weather-service/internal/lifecycle"
	"github.com/kjstillabower/property-weather-service/internal/listing"
	"github.com/kjstillabower/property-weather-service/internal/observability"
	"github.com/kjstillabower/property-weather-service/internal/service"
	"github.com/kjstillabower/property-weather-service/internal/store"
)

const inFlightCheckInterval = 100 * time.Millisecond

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	propertyStore, err := store.Open(startCtx, store.Config{
		Driver:       cfg.DatabaseDriver,
		DSN:          cfg.DatabaseDSN,
		MaxOpenConns: cfg.DatabaseMaxOpenConns,
	}, logger)
	if err != nil {
		startCancel()
		logger.Fatal("property store", zap.Error(err))
	}
	logger.Info("property store ready", zap.String("driver", cfg.DatabaseDriver))

	weatherClient, err := client.NewOpenMeteoClient(client.Config{
		URL:            cfg.WeatherAPIURL,
		APIKey:         cfg.WeatherAPIKey,
		UserAgent:      cfg.WeatherUserAgent,
		Timeout:        cfg.WeatherAPITimeout,
		RetryAttempts:  cfg.RetryAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
	})
	if err != nil {
		startCancel()
		logger.Fatal("weather client", zap.Error(err))
	}
	if cfg.CircuitBreakerEnabled {
		cb := newCircuitBreaker(cfg, logger)
		weatherClient.SetCircuitBreaker(cb)
		logger.Info("circuit breaker enabled",
			zap.String("component", cb.Component()),
			zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold),
			zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	weatherCache, cacheCloser, err := newCache(startCtx, cfg)
	startCancel()
	if err != nil {
		logger.Fatal("weather cache", zap.Error(err))
	}
	logger.Info("cache backend", zap.String("backend", cfg.CacheBackend))

	coalesceTimeout := time.Duration(0)
	if cfg.CoalesceEnabled {
		coalesceTimeout = cfg.CoalesceTimeout
	}
	weatherService := service.NewWeatherService(weatherClient, weatherCache, service.Options{
		Backend:         cfg.CacheBackend,
		TTL:             cfg.CacheTTL,
		CoalesceTimeout: coalesceTimeout,
	})

	publisher := newPublisher(cfg, logger)
	listingService := listing.NewService(propertyStore, weatherService, listing.Options{
		MaxConcurrentFetches: cfg.MaxConcurrentFetches,
		Publisher:            publisher,
	})

	healthConfig := &httphandler.HealthConfig{
		OverloadWindow:       cfg.OverloadWindow,
		OverloadThresholdPct: cfg.OverloadThresholdPct,
		RateLimitRPS:         cfg.RateLimitRPS,
		DegradedWindow:       cfg.DegradedWindow,
		DegradedErrorPct:     cfg.DegradedErrorPct,
		StorePing:            propertyStore.Ping,
	}
	if p, ok := weatherCache.(cache.Pinger); ok {
		healthConfig.CachePing = p.Ping
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	observability.RegisterRateLimitGauges(cfg.OverloadWindow)

	handler := httphandler.NewHandler(listingService, healthConfig, logger)
	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		AllowedOrigin:  cfg.CORSAllowedOrigin,
		RequestTimeout: cfg.RequestTimeout,
		Limiter:        limiter,
		Logger:         logger,
	})

	warmCtx, stopWarming := context.WithCancel(context.Background())
	defer stopWarming()
	if cfg.CacheWarm {
		startCacheWarming(warmCtx, cfg, weatherService, propertyStore, logger)
	}

	srv := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		// the weather path may wait on a full fan-out
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	stopWarming()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	if err := httphandler.WaitForInFlight(shutdownCtx, inFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	closeAll(logger, map[string]io.Closer{
		"event publisher": publisher,
		"weather cache":   cacheCloser,
		"property store":  propertyStore,
	})

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// newCircuitBreaker guards the weather client and mirrors transitions into metrics.
func newCircuitBreaker(cfg *config.Config, logger *zap.Logger) *circuitbreaker.CircuitBreaker {
	const component = "weather_api"
	observability.CircuitBreakerState.WithLabelValues(component).Set(float64(circuitbreaker.StateClosed))
	return circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.CircuitBreakerFailureThreshold,
		SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
		Timeout:          cfg.CircuitBreakerTimeout,
		Component:        component,
		OnStateChange: func(from, to circuitbreaker.State) {
			observability.RecordCircuitBreakerTransition(component, from.String(), to.String(), int(to))
			logger.Warn("circuit breaker state change",
				zap.String("component", component),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}

// newCache builds the configured backend. The returned closer is nil for the
// in-process cache.
func newCache(ctx context.Context, cfg *config.Config) (cache.Cache, io.Closer, error) {
	switch cfg.CacheBackend {
	case config.CacheBackendMemcached:
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			return nil, nil, fmt.Errorf("memcached: %w", err)
		}
		return mc, mc, nil
	case config.CacheBackendRedis:
		rc, err := cache.NewRedisCache(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisTimeout)
		if err != nil {
			return nil, nil, fmt.Errorf("redis: %w", err)
		}
		return rc, rc, nil
	default:
		return cache.NewInMemoryCache(), nil, nil
	}
}

// newPublisher returns a Kafka publisher when search events are enabled.
func newPublisher(cfg *config.Config, logger *zap.Logger) events.Publisher {
	if !cfg.EventsEnabled {
		return events.NopPublisher{}
	}
	logger.Info("search events enabled", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.EventsTopic))
	return events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.EventsTopic, logger)
}

// startCacheWarming prefetches readings for every stored coordinate in the
// background, once or every CacheWarmInterval, until ctx is cancelled.
func startCacheWarming(ctx context.Context, cfg *config.Config, fetcher cache.ReadingFetcher, source *store.SQLStore, logger *zap.Logger) {
	warmer := cache.NewCacheWarmer(fetcher, logger, cfg.MaxConcurrentFetches)
	go func() {
		if cfg.CacheWarmInterval <= 0 {
			coords, err := source.Coordinates(ctx)
			if err != nil {
				logger.Warn("cache warming: list coordinates", zap.Error(err))
				return
			}
			if err := warmer.Warm(ctx, coords); err != nil {
				logger.Warn("cache warming failed", zap.Error(err))
			}
			return
		}
		if err := warmer.WarmPeriodic(ctx, source.Coordinates, cfg.CacheWarmInterval); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("periodic cache warming stopped", zap.Error(err))
		}
	}()
}

// closeAll closes each non-nil resource, logging failures.
func closeAll(logger *zap.Logger, closers map[string]io.Closer) {
	for name, c := range closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			logger.Error("close "+name, zap.Error(err))
		}
	}
}
