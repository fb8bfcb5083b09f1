package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"github.com/kjstillabower/property-weather-service/internal/circuitbreaker"
	"github.com/kjstillabower/property-weather-service/internal/models"
	"github.com/kjstillabower/property-weather-service/internal/observability"
)

// WeatherClient fetches the current weather at a coordinate.
type WeatherClient interface {
	GetCurrentWeather(ctx context.Context, c models.Coordinate) (models.WeatherReading, error)
}

var (
	ErrInvalidConfig   = errors.New("invalid weather client config")
	ErrBadRequest      = errors.New("weather request rejected")
	ErrRateLimited     = errors.New("rate limited")
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrBadResponse     = errors.New("malformed weather response")

	// ErrCircuitOpen is returned without an upstream call while the breaker is open.
	ErrCircuitOpen = circuitbreaker.ErrOpen
)

// DefaultURL is the Open-Meteo forecast endpoint.
const DefaultURL = "https://api.open-meteo.com/v1/forecast"

// currentFields are the Open-Meteo "current" variables the service reads.
const currentFields = "temperature_2m,wind_speed_10m,weather_code,relative_humidity_2m"

// maxBodyBytes caps how much of an upstream response is read.
const maxBodyBytes = 1 << 20

// Config configures an OpenMeteoClient. Zero values take defaults.
type Config struct {
	URL       string
	APIKey    string // optional, for the commercial Open-Meteo tier
	UserAgent string
	Timeout   time.Duration // per attempt, default 5s

	RetryAttempts  int // total attempts, default 1 (no retry)
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// OpenMeteoClient implements WeatherClient against the Open-Meteo forecast API.
type OpenMeteoClient struct {
	baseURL        *url.URL
	apiKey         string
	userAgent      string
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	breaker        *circuitbreaker.CircuitBreaker
}

// NewOpenMeteoClient validates cfg and returns a client.
func NewOpenMeteoClient(cfg Config) (*OpenMeteoClient, error) {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: url %q", ErrInvalidConfig, cfg.URL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = observability.ServiceName + "/1.0"
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 100 * time.Millisecond
	}
	if cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		cfg.RetryMaxDelay = 2 * time.Second
	}

	return &OpenMeteoClient{
		baseURL:        u,
		apiKey:         cfg.APIKey,
		userAgent:      cfg.UserAgent,
		timeout:        cfg.Timeout,
		retryAttempts:  cfg.RetryAttempts,
		retryBaseDelay: cfg.RetryBaseDelay,
		retryMaxDelay:  cfg.RetryMaxDelay,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}, nil
}

// SetCircuitBreaker routes every upstream attempt through cb. Pass nil to disable.
func (c *OpenMeteoClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

type openMeteoResponse struct {
	Current *openMeteoCurrent `json:"current"`
}

// openMeteoCurrent uses pointers so a null or absent variable is told apart from zero.
type openMeteoCurrent struct {
	Time               string   `json:"time"`
	Temperature2m      *float64 `json:"temperature_2m"`
	WindSpeed10m       *float64 `json:"wind_speed_10m"`
	WeatherCode        *int     `json:"weather_code"`
	RelativeHumidity2m *float64 `json:"relative_humidity_2m"`
}

// missingField names the first variable the provider left null or out, or "".
func (c *openMeteoCurrent) missingField() string {
	switch {
	case c.Temperature2m == nil:
		return "temperature_2m"
	case c.WindSpeed10m == nil:
		return "wind_speed_10m"
	case c.WeatherCode == nil:
		return "weather_code"
	case c.RelativeHumidity2m == nil:
		return "relative_humidity_2m"
	}
	return ""
}

type openMeteoError struct {
	Reason string `json:"reason"`
}

// GetCurrentWeather returns the current reading at c. Each attempt has its own timeout.
func (c *OpenMeteoClient) GetCurrentWeather(ctx context.Context, coord models.Coordinate) (models.WeatherReading, error) {
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.WeatherAPIRetriesTotal.Inc()
			select {
			case <-ctx.Done():
				return models.WeatherReading{}, ctx.Err()
			case <-time.After(c.calculateBackoff(attempt)):
			}
		}

		result, err := c.attempt(ctx, coord)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !isRetryable(err) {
			break
		}
	}

	observability.WeatherAPIErrorsTotal.WithLabelValues(string(CategorizeError(lastErr))).Inc()
	if c.retryAttempts > 1 {
		return models.WeatherReading{}, fmt.Errorf("exhausted retries: %w", lastErr)
	}
	return models.WeatherReading{}, lastErr
}

func (c *OpenMeteoClient) attempt(ctx context.Context, coord models.Coordinate) (models.WeatherReading, error) {
	if c.breaker == nil {
		return c.callAPI(ctx, coord)
	}
	var (
		result  models.WeatherReading
		callErr error
	)
	err := c.breaker.Call(ctx, func() error {
		result, callErr = c.callAPI(ctx, coord)
		if errors.Is(callErr, ErrBadRequest) {
			// a rejected coordinate says nothing about upstream health
			return nil
		}
		return callErr
	})
	if err != nil {
		return models.WeatherReading{}, err
	}
	return result, callErr
}

func (c *OpenMeteoClient) buildURL(coord models.Coordinate) string {
	u := *c.baseURL
	q := u.Query()
	q.Set("latitude", strconv.FormatFloat(coord.Lat, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(coord.Lng, 'f', -1, 64))
	q.Set("current", currentFields)
	if c.apiKey != "" {
		q.Set("apikey", c.apiKey)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *OpenMeteoClient) callAPI(ctx context.Context, coord models.Coordinate) (models.WeatherReading, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.buildURL(coord), nil)
	if err != nil {
		return models.WeatherReading{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if id := observability.CorrelationIDFromContext(ctx); id != "" {
		req.Header.Set("X-Correlation-ID", id)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		recordCall("error", start)
		return models.WeatherReading{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		recordCall("error", start)
		return models.WeatherReading{}, err
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		recordCall("rate_limited", start)
		return models.WeatherReading{}, ErrRateLimited
	case resp.StatusCode == http.StatusBadRequest:
		recordCall("bad_request", start)
		var apiErr openMeteoError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Reason != "" {
			return models.WeatherReading{}, fmt.Errorf("%w: %s", ErrBadRequest, apiErr.Reason)
		}
		return models.WeatherReading{}, ErrBadRequest
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		recordCall("error", start)
		return models.WeatherReading{}, fmt.Errorf("%w: status %d", ErrUpstreamFailure, resp.StatusCode)
	}

	var decoded openMeteoResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		recordCall("error", start)
		return models.WeatherReading{}, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if decoded.Current == nil {
		recordCall("error", start)
		return models.WeatherReading{}, fmt.Errorf("%w: missing current block", ErrBadResponse)
	}
	cur := decoded.Current
	if field := cur.missingField(); field != "" {
		recordCall("error", start)
		return models.WeatherReading{}, fmt.Errorf("%w: missing %s", ErrBadResponse, field)
	}

	recordCall("success", start)
	return models.WeatherReading{
		Temperature:      *cur.Temperature2m,
		WindSpeed:        *cur.WindSpeed10m,
		WeatherCode:      *cur.WeatherCode,
		WeatherCondition: models.ClassifyWeatherCode(*cur.WeatherCode),
		Time:             cur.Time,
		Humidity:         *cur.RelativeHumidity2m,
	}, nil
}

func recordCall(status string, start time.Time) {
	observability.WeatherAPICallsTotal.WithLabelValues(status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
}

// isRetryable reports whether another attempt could succeed.
func isRetryable(err error) bool {
	if errors.Is(err, ErrUpstreamFailure) || errors.Is(err, ErrRateLimited) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// calculateBackoff returns an exponential delay with up to 25% jitter.
func (c *OpenMeteoClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}
	jitter := delay * 0.25 * rand.Float64()
	return time.Duration(delay + jitter)
}
