package http

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/property-weather-service/internal/observability"
	"github.com/kjstillabower/property-weather-service/internal/traffic"
)

// CorrelationIDHeader carries the request correlation id in both directions.
const CorrelationIDHeader = "X-Correlation-ID"

var (
	corsAllowedMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}
	corsAllowedHeaders = []string{"Content-Type", "Authorization"}
)

// CorrelationIDMiddleware reuses the caller's X-Correlation-ID or mints a UUID,
// echoes it in the response and stores it with a request-scoped logger on the context.
func CorrelationIDMiddleware(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			corrID := strings.TrimSpace(r.Header.Get(CorrelationIDHeader))
			if corrID == "" {
				corrID = uuid.New().String()
			}
			w.Header().Set(CorrelationIDHeader, corrID)

			ctx := observability.WithCorrelationID(r.Context(), corrID)
			ctx = observability.WithLogger(ctx, logger.With(zap.String("correlation_id", corrID)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CORSMiddleware allows a single configured origin with credentials. Preflight
// requests from that origin are answered with 204 and never reach the handler.
func CORSMiddleware(allowedOrigin string) mux.MiddlewareFunc {
	return handlers.CORS(
		handlers.AllowedOrigins([]string{allowedOrigin}),
		handlers.AllowCredentials(),
		handlers.AllowedMethods(corsAllowedMethods),
		handlers.AllowedHeaders(corsAllowedHeaders),
		handlers.OptionStatusCode(http.StatusNoContent),
	)
}

// MetricsMiddleware records request count, latency and in-flight requests.
// The in-flight count also feeds graceful shutdown.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		observability.HTTPRequestsInFlight.Inc()
		globalInFlightTracker.Increment()
		defer func() {
			globalInFlightTracker.Decrement()
			observability.HTTPRequestsInFlight.Dec()
		}()

		recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := getRoute(r)
		observability.HTTPRequestsTotal.WithLabelValues(r.Method, route, statusCodeString(recorder.statusCode)).Inc()
		observability.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// getRoute maps a request path to a bounded route label.
func getRoute(r *http.Request) string {
	switch path := r.URL.Path; path {
	case "/", "/health", "/metrics", "/get-properties":
		return path
	default:
		return "other"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func statusCodeString(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}

// TimeoutMiddleware sets a deadline on the request context. Weather fetches run
// detached from it, so it bounds the store query and the wait on the fan-out.
func TimeoutMiddleware(timeout time.Duration) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RateLimitMiddleware returns 429 when the token bucket is exhausted. Disabled when limiter is nil.
func RateLimitMiddleware(limiter *rate.Limiter) mux.MiddlewareFunc {
	if limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				if logger := observability.LoggerFromContext(r.Context()); logger != nil {
					logger.Debug("rate limit denied")
				}
				traffic.RecordDenied()
				observability.RateLimitDeniedTotal.Inc()
				writeError(w, http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
