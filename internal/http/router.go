package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/property-weather-service/internal/observability"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	AllowedOrigin  string
	RequestTimeout time.Duration
	// Limiter guards /get-properties. Nil disables rate limiting.
	Limiter *rate.Limiter
	Logger  *zap.Logger
}

// NewRouter wires the service routes. Every route gets correlation ids, CORS and
// request metrics; /get-properties additionally gets rate limiting and a deadline.
// OPTIONS is routed explicitly so preflight requests reach the CORS middleware.
func NewRouter(h *Handler, cfg RouterConfig) *mux.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := mux.NewRouter()
	r.Use(CorrelationIDMiddleware(logger), CORSMiddleware(cfg.AllowedOrigin), MetricsMiddleware)

	r.HandleFunc("/", h.GetRoot).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	r.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	props := r.PathPrefix("/get-properties").Subrouter()
	props.Use(RateLimitMiddleware(cfg.Limiter))
	if cfg.RequestTimeout > 0 {
		props.Use(TimeoutMiddleware(cfg.RequestTimeout))
	}
	props.HandleFunc("", h.GetProperties).Methods(http.MethodGet, http.MethodOptions)

	return r
}
