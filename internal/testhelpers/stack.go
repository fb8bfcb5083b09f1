// Package testhelpers wires the real service stack for tests: an in-memory
// SQLite property store, a fake Open-Meteo upstream, and the client, weather
// service and listing service between them.
package testhelpers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/kjstillabower/property-weather-service/internal/cache"
	"github.com/kjstillabower/property-weather-service/internal/client"
	"github.com/kjstillabower/property-weather-service/internal/listing"
	"github.com/kjstillabower/property-weather-service/internal/models"
	"github.com/kjstillabower/property-weather-service/internal/service"
	"github.com/kjstillabower/property-weather-service/internal/store"
)

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Fixture returns five properties. Three match "Lake" (by name, city, city);
// "Prairie House" has no coordinates; "50% Off_Deal" sits at 0,0.
func Fixture() []models.Property {
	return []models.Property{
		{Name: "Lakeside Cottage", City: "Madison", State: "WI", Country: "US", Lat: Float(43.07), Lng: Float(-89.40), IsActive: true, Tags: []string{"waterfront"}},
		{Name: "Downtown Loft", City: "Salt Lake City", State: "UT", Country: "US", Lat: Float(40.76), Lng: Float(-111.89), IsActive: true},
		{Name: "Harbor View", City: "Boston", State: "MA", Country: "US", Lat: Float(42.36), Lng: Float(-71.06), Tags: []string{"ocean"}},
		{Name: "Prairie House", City: "Lake Forest", State: "IL", Country: "US", IsActive: true},
		{Name: "50% Off_Deal", City: "Austin", State: "TX", Country: "US", Lat: Float(0), Lng: Float(0), IsActive: true},
	}
}

// NewStore opens an in-memory SQLite store seeded with props and closes it on cleanup.
func NewStore(t testing.TB, props ...models.Property) *store.SQLStore {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, store.Config{Driver: store.DriverSQLite, DSN: ":memory:"}, nil)
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	for i := range props {
		p := props[i]
		if err := s.Insert(ctx, &p); err != nil {
			t.Fatalf("Insert(%q) error = %v", p.Name, err)
		}
	}
	return s
}

// Upstream is a fake Open-Meteo forecast endpoint. Unknown coordinates get
// DefaultReading; coordinates marked with Fail answer 503 and those marked
// with NullCurrent answer 200 with null weather variables.
type Upstream struct {
	Server *httptest.Server

	mu       sync.Mutex
	readings map[string]models.WeatherReading
	failing  map[string]bool
	nulls    map[string]bool
	calls    atomic.Int64
}

// DefaultReading is a clear, mild reading.
var DefaultReading = models.WeatherReading{Temperature: 20, WindSpeed: 3, WeatherCode: 0, Humidity: 50, Time: "2024-06-01T12:00"}

// NewUpstream starts the fake and stops it on cleanup.
func NewUpstream(t testing.TB) *Upstream {
	t.Helper()
	u := &Upstream{
		readings: make(map[string]models.WeatherReading),
		failing:  make(map[string]bool),
		nulls:    make(map[string]bool),
	}
	u.Server = httptest.NewServer(http.HandlerFunc(u.serve))
	t.Cleanup(u.Server.Close)
	return u
}

// SetReading makes c answer with r.
func (u *Upstream) SetReading(c models.Coordinate, r models.WeatherReading) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.readings[c.Key()] = r
}

// Fail makes c answer 503.
func (u *Upstream) Fail(c models.Coordinate) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.failing[c.Key()] = true
}

// NullCurrent makes c answer with null temperature and weather code.
func (u *Upstream) NullCurrent(c models.Coordinate) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.nulls[c.Key()] = true
}

// Calls returns the number of forecast requests served.
func (u *Upstream) Calls() int64 {
	return u.calls.Load()
}

func (u *Upstream) serve(w http.ResponseWriter, r *http.Request) {
	u.calls.Add(1)
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("latitude"), 64)
	lng, errLng := strconv.ParseFloat(q.Get("longitude"), 64)
	if errLat != nil || errLng != nil {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":true,"reason":"invalid coordinates"}`))
		return
	}
	key := models.Coordinate{Lat: lat, Lng: lng}.Key()

	u.mu.Lock()
	reading, ok := u.readings[key]
	failing := u.failing[key]
	nulls := u.nulls[key]
	u.mu.Unlock()

	if failing {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if nulls {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"current":{"time":"2024-06-01T12:00","temperature_2m":null,"weather_code":null}}`))
		return
	}
	if !ok {
		reading = DefaultReading
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"latitude":  lat,
		"longitude": lng,
		"current": map[string]any{
			"time":                 reading.Time,
			"temperature_2m":       reading.Temperature,
			"wind_speed_10m":       reading.WindSpeed,
			"weather_code":         reading.WeatherCode,
			"relative_humidity_2m": reading.Humidity,
		},
	})
}

// Stack is the listing pipeline wired against a fake upstream.
type Stack struct {
	Store    *store.SQLStore
	Upstream *Upstream
	Cache    *cache.InMemoryCache
	Weather  *service.WeatherService
	Listing  *listing.Service
}

// NewStack seeds the store with props (Fixture when none are given) and wires
// the real client, in-memory cache, weather service and listing service.
func NewStack(t testing.TB, props ...models.Property) *Stack {
	t.Helper()
	if len(props) == 0 {
		props = Fixture()
	}
	st := NewStore(t, props...)
	up := NewUpstream(t)

	wc, err := client.NewOpenMeteoClient(client.Config{URL: up.Server.URL, Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("NewOpenMeteoClient() error = %v", err)
	}
	c := cache.NewInMemoryCache()
	ws := service.NewWeatherService(wc, c, service.Options{Backend: cache.BackendInMemory, TTL: 5 * time.Minute, CoalesceTimeout: 3 * time.Second})

	return &Stack{
		Store:    st,
		Upstream: up,
		Cache:    c,
		Weather:  ws,
		Listing:  listing.NewService(st, ws, listing.Options{MaxConcurrentFetches: 4}),
	}
}
