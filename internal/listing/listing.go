// Package listing implements the property listing: text search, optional
// weather enrichment and filtering, and pagination.
package listing

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/property-weather-service/internal/client"
	"github.com/kjstillabower/property-weather-service/internal/events"
	"github.com/kjstillabower/property-weather-service/internal/filter"
	"github.com/kjstillabower/property-weather-service/internal/models"
	"github.com/kjstillabower/property-weather-service/internal/observability"
	"github.com/kjstillabower/property-weather-service/internal/validation"
	"github.com/kjstillabower/property-weather-service/internal/workerpool"
)

// ParamSearchText is the free-text query parameter.
const ParamSearchText = "searchText"

// DefaultMaxConcurrentFetches bounds the weather fan-out when unset.
const DefaultMaxConcurrentFetches = 10

// PropertySearcher returns properties whose name, city or state contains text.
type PropertySearcher interface {
	Search(ctx context.Context, text string) ([]models.Property, error)
}

// WeatherProvider returns the current reading for a coordinate, cache-first.
type WeatherProvider interface {
	GetReading(ctx context.Context, c models.Coordinate) (models.WeatherReading, error)
}

// Request is a parsed listing query.
type Request struct {
	SearchText string
	Criteria   filter.Criteria
	Page       PageRequest
}

// ParseRequest parses every listing parameter from q. It never fails:
// malformed values fall back to their defaults.
func ParseRequest(q url.Values) Request {
	return Request{
		SearchText: validation.NormalizeSearchText(q.Get(ParamSearchText)),
		Criteria:   filter.ParseCriteria(q),
		Page:       ParsePageRequest(q),
	}
}

// Result is the listing response body.
type Result struct {
	Data       []models.PropertyListing `json:"data"`
	Pagination Pagination               `json:"pagination"`
}

// Options configures a Service.
type Options struct {
	MaxConcurrentFetches int
	Publisher            events.Publisher
}

// Service runs listing requests.
type Service struct {
	store         PropertySearcher
	weather       WeatherProvider
	maxConcurrent int
	publisher     events.Publisher
	now           func() time.Time
}

// NewService creates a listing Service. A nil publisher disables search events.
func NewService(store PropertySearcher, weather WeatherProvider, opts Options) *Service {
	if opts.MaxConcurrentFetches <= 0 {
		opts.MaxConcurrentFetches = DefaultMaxConcurrentFetches
	}
	if opts.Publisher == nil {
		opts.Publisher = events.NopPublisher{}
	}
	return &Service{
		store:         store,
		weather:       weather,
		maxConcurrent: opts.MaxConcurrentFetches,
		publisher:     opts.Publisher,
		now:           time.Now,
	}
}

// List runs req. Without weather criteria it pages the text-search results
// as stored. With criteria it fetches weather for every candidate that has a
// valid coordinate, drops failed fetches, keeps matches and pages those.
// A store error fails the whole request.
func (s *Service) List(ctx context.Context, req Request) (Result, error) {
	start := s.now()
	logger := observability.LoggerFromContext(ctx)
	if logger == nil {
		logger = zap.NewNop()
	}
	hasWeatherFilters := req.Criteria.HasAny()
	path := "unfiltered"
	if hasWeatherFilters {
		path = "filtered"
	}

	logger.Debug("listing request",
		zap.String("searchText", req.SearchText),
		zap.Any("filters", req.Criteria),
		zap.Int("page", req.Page.Page),
		zap.Int("limit", req.Page.Limit),
		zap.Bool("hasWeatherFilters", hasWeatherFilters),
	)

	candidates, err := s.store.Search(ctx, req.SearchText)
	if err != nil {
		observability.ListingRequestsTotal.WithLabelValues(path, "error").Inc()
		return Result{}, fmt.Errorf("search properties: %w", err)
	}
	observability.ListingCandidates.Observe(float64(len(candidates)))
	logger.Debug("properties found", zap.Int("candidates", len(candidates)))

	var matched []models.PropertyListing
	if !hasWeatherFilters {
		matched = make([]models.PropertyListing, len(candidates))
		for i, p := range candidates {
			matched[i] = models.PropertyListing{Property: p}
		}
	} else {
		matched = s.filterByWeather(ctx, logger, candidates, req.Criteria)
		observability.ListingMatches.Observe(float64(len(matched)))
	}

	data, pagination := Paginate(matched, req.Page)
	observability.ListingRequestsTotal.WithLabelValues(path, "success").Inc()

	s.publish(ctx, logger, req, hasWeatherFilters, len(candidates), len(matched), start)
	return Result{Data: data, Pagination: pagination}, nil
}

type fetchResult struct {
	reading models.WeatherReading
	ok      bool
}

func (s *Service) filterByWeather(ctx context.Context, logger *zap.Logger, candidates []models.Property, criteria filter.Criteria) []models.PropertyListing {
	located := make([]models.Property, 0, len(candidates))
	for _, p := range candidates {
		if validation.ValidateCoordinate(p.Lat, p.Lng) == nil {
			located = append(located, p)
		}
	}

	// a disconnecting client must not abort fetches that warm the shared cache
	fetchCtx := context.WithoutCancel(ctx)
	fanoutStart := time.Now()
	results := make([]fetchResult, len(located))
	pool := workerpool.New(s.maxConcurrent)
	for i, p := range located {
		coord, _ := p.Coordinate()
		pool.Submit(func() {
			reading, err := s.weather.GetReading(fetchCtx, coord)
			if err != nil {
				logger.Warn("weather fetch failed",
					zap.Int64("propertyId", p.ID),
					zap.String("key", coord.Key()),
					zap.String("category", string(client.CategorizeError(err))),
					zap.Error(err),
				)
				return
			}
			results[i] = fetchResult{reading: reading, ok: true}
		})
	}
	pool.Wait()
	fanout := time.Since(fanoutStart)
	observability.WeatherFanoutDurationSeconds.Observe(fanout.Seconds())

	summary := newWeatherSummary()
	matched := make([]models.PropertyListing, 0)
	for i, r := range results {
		if !r.ok {
			continue
		}
		summary.add(r.reading)
		if !criteria.Matches(r.reading) {
			continue
		}
		reading := r.reading
		reading.WeatherCondition = reading.Condition()
		matched = append(matched, models.PropertyListing{
			Property: located[i],
			Weather:  &models.PropertyWeather{Current: reading},
		})
	}

	logger.Info("weather filter summary",
		zap.Int("candidates", len(candidates)),
		zap.Int("withCoordinates", len(located)),
		zap.Int("withWeather", summary.count),
		zap.Strings("conditions", summary.conditionList()),
		zap.Float64("temperatureMin", summary.tempMin),
		zap.Float64("temperatureMax", summary.tempMax),
		zap.Float64("humidityMin", summary.humMin),
		zap.Float64("humidityMax", summary.humMax),
		zap.Int("matched", len(matched)),
		zap.Duration("fanout", fanout),
	)
	return matched
}

func (s *Service) publish(ctx context.Context, logger *zap.Logger, req Request, filtered bool, candidates, matched int, start time.Time) {
	ev := events.NewSearchEvent(s.now())
	ev.SearchText = req.SearchText
	ev.HasWeatherFilters = filtered
	ev.Candidates = candidates
	ev.Matched = matched
	ev.Page = req.Page.Page
	ev.Limit = req.Page.Limit
	ev.DurationMs = s.now().Sub(start).Milliseconds()
	ev.CorrelationID = observability.CorrelationIDFromContext(ctx)

	if err := s.publisher.Publish(context.WithoutCancel(ctx), ev); err != nil {
		logger.Warn("search event not published", zap.String("eventId", ev.ID), zap.Error(err))
	}
}

// weatherSummary aggregates successful readings for the diagnostic log line.
type weatherSummary struct {
	count            int
	conditions       map[string]struct{}
	tempMin, tempMax float64
	humMin, humMax   float64
}

func newWeatherSummary() *weatherSummary {
	return &weatherSummary{
		conditions: make(map[string]struct{}),
		tempMin:    math.Inf(1),
		tempMax:    math.Inf(-1),
		humMin:     math.Inf(1),
		humMax:     math.Inf(-1),
	}
}

func (w *weatherSummary) add(r models.WeatherReading) {
	w.count++
	w.conditions[r.Condition()] = struct{}{}
	w.tempMin = math.Min(w.tempMin, r.Temperature)
	w.tempMax = math.Max(w.tempMax, r.Temperature)
	w.humMin = math.Min(w.humMin, r.Humidity)
	w.humMax = math.Max(w.humMax, r.Humidity)
}

func (w *weatherSummary) conditionList() []string {
	out := make([]string, 0, len(w.conditions))
	for c := range w.conditions {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
