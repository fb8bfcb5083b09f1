package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kjstillabower/property-weather-service/internal/traffic"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight.
	HTTPRequestsInFlight prometheus.Gauge

	// Open-Meteo call rate by outcome.
	WeatherAPICallsTotal *prometheus.CounterVec

	// Open-Meteo latency. Watch for: p99 approaching the 5s fetch timeout.
	WeatherAPIDuration *prometheus.HistogramVec

	// Failed weather fetches by category (timeout, network, upstream_5xx, ...).
	WeatherAPIErrorsTotal *prometheus.CounterVec

	// Retry attempts for weather API.
	WeatherAPIRetriesTotal prometheus.Counter

	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Cache backend failures by operation and category. Lookups fall through to upstream.
	CacheErrorsTotal *prometheus.CounterVec

	CacheOperationDurationSeconds *prometheus.HistogramVec

	// Lookups that waited on an in-flight upstream call for the same coordinate.
	RequestCoalescingHitsTotal prometheus.Counter

	// Misses that overlapped another miss for the same coordinate. Watch for: hot keys expiring together.
	CacheStampedeDetectedTotal prometheus.Counter
	CacheStampedeConcurrency   prometheus.Histogram

	// Listing requests by path (filtered, unfiltered) and outcome.
	ListingRequestsTotal *prometheus.CounterVec

	// Text-search candidate set size. Watch for: growth, since the weather path materializes it.
	ListingCandidates prometheus.Histogram

	// Properties returned after weather filtering, before pagination.
	ListingMatches prometheus.Histogram

	// Time spent fetching weather for one listing request.
	WeatherFanoutDurationSeconds prometheus.Histogram

	CircuitBreakerState       *prometheus.GaugeVec
	CircuitBreakerTransitions *prometheus.CounterVec

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	CacheWarmingTotal           prometheus.Counter
	CacheWarmingErrorsTotal     prometheus.Counter
	CacheWarmingDurationSeconds prometheus.Histogram

	// Property store query latency by operation (search, coordinates, insert, ping) and result.
	StoreQueryDurationSeconds *prometheus.HistogramVec

	// Search events handed to the publisher by result (success, error).
	SearchEventsPublishedTotal *prometheus.CounterVec

	rateLimitGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	WeatherAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiCallsTotal",
			Help: "Total number of Open-Meteo API calls",
		},
		[]string{"status"},
	)
	WeatherAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weatherApiDurationSeconds",
			Help:    "Open-Meteo API latency in seconds (per request)",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"status"},
	)
	WeatherAPIErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiErrorsTotal",
			Help: "Failed weather fetches by error category",
		},
		[]string{"category"},
	)
	WeatherAPIRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weatherApiRetriesTotal",
			Help: "Total number of retry attempts for weather API calls",
		},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of weather cache hits",
		},
		[]string{"backend"},
	)
	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheMissesTotal",
			Help: "Total number of weather cache misses (absent or stale)",
		},
		[]string{"backend"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Weather cache backend errors by operation and category",
		},
		[]string{"operation", "category"},
	)
	CacheOperationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cacheOperationDurationSeconds",
			Help:    "Weather cache operation latency in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5},
		},
		[]string{"operation", "result"},
	)
	RequestCoalescingHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "requestCoalescingHitsTotal",
			Help: "Weather lookups served by waiting on an in-flight upstream call",
		},
	)
	CacheStampedeDetectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheStampedeDetectedTotal",
			Help: "Cache misses that overlapped another in-progress miss for the same coordinate",
		},
	)
	CacheStampedeConcurrency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheStampedeConcurrency",
			Help:    "Concurrent misses for one coordinate when a stampede is detected",
			Buckets: []float64{2, 3, 5, 10, 20, 50},
		},
	)
	ListingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listingRequestsTotal",
			Help: "Property listing requests by path and result",
		},
		[]string{"path", "result"},
	)
	ListingCandidates = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "listingCandidates",
			Help:    "Number of properties matching the text search per listing request",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)
	ListingMatches = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "listingWeatherMatches",
			Help:    "Number of properties satisfying weather criteria per filtered request",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)
	WeatherFanoutDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "weatherFanoutDurationSeconds",
			Help:    "Time to fetch weather for all candidates of one listing request",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half_open)",
		},
		[]string{"component"},
	)
	CircuitBreakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Cache warming runs",
		},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingErrorsTotal",
			Help: "Cache warming runs with at least one failed coordinate",
		},
	)
	CacheWarmingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheWarmingDurationSeconds",
			Help:    "Cache warming run duration in seconds",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30},
		},
	)
	StoreQueryDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storeQueryDurationSeconds",
			Help:    "Property store query duration in seconds",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1},
		},
		[]string{"operation", "result"},
	)
	SearchEventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searchEventsPublishedTotal",
			Help: "Search events handed to the event publisher",
		},
		[]string{"result"},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		WeatherAPICallsTotal, WeatherAPIDuration, WeatherAPIErrorsTotal, WeatherAPIRetriesTotal,
		CacheHitsTotal, CacheMissesTotal, CacheErrorsTotal, CacheOperationDurationSeconds,
		RequestCoalescingHitsTotal, CacheStampedeDetectedTotal, CacheStampedeConcurrency,
		ListingRequestsTotal, ListingCandidates, ListingMatches, WeatherFanoutDurationSeconds,
		CircuitBreakerState, CircuitBreakerTransitions,
		RateLimitDeniedTotal,
		CacheWarmingTotal, CacheWarmingErrorsTotal, CacheWarmingDurationSeconds,
		StoreQueryDurationSeconds, SearchEventsPublishedTotal,
	)
}

// RegisterRateLimitGauges registers load and rejects gauges for the rate-limited path.
// Call from main after config load with the lifecycle overload window.
func RegisterRateLimitGauges(window time.Duration) {
	rateLimitGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRequestsInWindow",
					Help: "Requests hitting rate-limited path in sliding window; load/capacity planning",
				},
				func() float64 { return float64(traffic.RequestCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in sliding window; are we rejecting requests",
				},
				func() float64 { return float64(traffic.DenialCount(window)) },
			),
		)
	})
}

// RecordCircuitBreakerTransition counts a transition and updates the state gauge.
func RecordCircuitBreakerTransition(component, from, to string, toValue int) {
	CircuitBreakerTransitions.WithLabelValues(component, from, to).Inc()
	CircuitBreakerState.WithLabelValues(component).Set(float64(toValue))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
