package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/kjstillabower/property-weather-service/internal/lifecycle"
	"github.com/kjstillabower/property-weather-service/internal/listing"
	"github.com/kjstillabower/property-weather-service/internal/observability"
	"github.com/kjstillabower/property-weather-service/internal/traffic"
)

// RootBanner is the plain-text body served on GET /.
const RootBanner = "Property Weather Service: OK"

// healthCheckTimeout bounds each dependency ping made by /health.
const healthCheckTimeout = 2 * time.Second

// ListingService runs a parsed listing request.
type ListingService interface {
	List(ctx context.Context, req listing.Request) (listing.Result, error)
}

// HealthConfig holds lifecycle thresholds and dependency checks for the health handler.
type HealthConfig struct {
	OverloadWindow       time.Duration
	OverloadThresholdPct int
	RateLimitRPS         int // 0 when rate limiter disabled
	DegradedWindow       time.Duration
	DegradedErrorPct     int
	// StorePing checks the property store. Required for a meaningful health answer.
	StorePing func(ctx context.Context) error
	// CachePing, when set, is called to check cache reachability. Used for distributed backends.
	CachePing func() error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	listing          ListingService
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. healthConfig may be nil.
func NewHandler(listingService ListingService, healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		listing:      listingService,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

// GetRoot handles GET /.
func (h *Handler) GetRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(RootBanner))
}

// GetProperties handles GET /get-properties. Query parsing never fails; any
// listing error is logged with the request's correlation id and answered with a
// generic 500 body.
func (h *Handler) GetProperties(w http.ResponseWriter, r *http.Request) {
	req := listing.ParseRequest(r.URL.Query())

	result, err := h.listing.List(r.Context(), req)
	if err != nil {
		traffic.RecordError()
		h.requestLogger(r).Error("get properties failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}
	traffic.RecordSuccess()
	writeJSON(w, http.StatusOK, result)
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := h.dependencyChecks(ctx)
	result := h.computeHealthStatus(checks)

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   observability.ServiceName,
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// dependencyChecks pings the store and, when configured, the cache.
func (h *Handler) dependencyChecks(ctx context.Context) map[string]string {
	checks := make(map[string]string)
	if h.healthConfig == nil {
		return checks
	}
	if h.healthConfig.StorePing != nil {
		checks["store"] = checkStatus(h.healthConfig.StorePing(ctx))
	}
	if h.healthConfig.CachePing != nil {
		checks["cache"] = checkStatus(h.healthConfig.CachePing())
	}
	return checks
}

func checkStatus(err error) string {
	if err != nil {
		return "unhealthy"
	}
	return "healthy"
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > store unreachable > overloaded > error rate > healthy.
// An unreachable cache is reported in checks but does not change the status,
// since lookups fall through to the upstream.
func (h *Handler) computeHealthStatus(checks map[string]string) healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if checks["store"] == "unhealthy" {
		return healthResult{"degraded", http.StatusServiceUnavailable, "store_unreachable"}
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	if h.healthConfig.RateLimitRPS > 0 && h.healthConfig.OverloadWindow > 0 {
		threshold := float64(h.healthConfig.RateLimitRPS) * h.healthConfig.OverloadWindow.Seconds() * float64(h.healthConfig.OverloadThresholdPct) / 100
		if float64(traffic.RequestCount(h.healthConfig.OverloadWindow)) > threshold {
			return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold"}
		}
	}
	if h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		errors, total := traffic.ErrorRate(h.healthConfig.DegradedWindow)
		if total > 0 && float64(errors)*100/float64(total) >= float64(h.healthConfig.DegradedErrorPct) {
			return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// requestLogger returns the request-scoped logger set by CorrelationIDMiddleware,
// falling back to the handler's logger.
func (h *Handler) requestLogger(r *http.Request) *zap.Logger {
	if l := observability.LoggerFromContext(r.Context()); l != nil {
		return l
	}
	return h.logger
}

// writeJSON writes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the {"error": message} body used by every failing endpoint.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
