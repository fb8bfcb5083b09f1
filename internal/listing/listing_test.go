package listing

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/property-weather-service/internal/events"
	"github.com/kjstillabower/property-weather-service/internal/models"
	"github.com/kjstillabower/property-weather-service/internal/observability"
)

func f64(v float64) *float64 { return &v }

type fakeStore struct {
	props []models.Property
	err   error
}

func (f *fakeStore) Search(ctx context.Context, text string) ([]models.Property, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]models.Property, 0)
	needle := strings.ToLower(text)
	for _, p := range f.props {
		if needle == "" ||
			strings.Contains(strings.ToLower(p.Name), needle) ||
			strings.Contains(strings.ToLower(p.City), needle) ||
			strings.Contains(strings.ToLower(p.State), needle) {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeWeather struct {
	mu       sync.Mutex
	readings map[string]models.WeatherReading
	fail     map[string]error
	delay    time.Duration

	calls       atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	sawCanceled atomic.Bool
}

func (f *fakeWeather) GetReading(ctx context.Context, c models.Coordinate) (models.WeatherReading, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	if ctx.Err() != nil {
		f.sawCanceled.Store(true)
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[c.Key()]; err != nil {
		return models.WeatherReading{}, err
	}
	r, ok := f.readings[c.Key()]
	if !ok {
		return models.WeatherReading{}, errors.New("no reading")
	}
	return r, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.SearchEvent
	err    error
}

func (r *recordingPublisher) Publish(ctx context.Context, ev events.SearchEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recordingPublisher) Close() error { return nil }

func reading(code int, temp, humidity float64) models.WeatherReading {
	return models.WeatherReading{Temperature: temp, Humidity: humidity, WeatherCode: code, WindSpeed: 3, Time: "2024-06-01T12:00"}
}

func sampleProperties() []models.Property {
	return []models.Property{
		{ID: 1, Name: "Lakeside Cottage", City: "Madison", State: "WI", Lat: f64(43.07), Lng: f64(-89.40)},
		{ID: 2, Name: "Downtown Loft", City: "Salt Lake City", State: "UT", Lat: f64(40.76), Lng: f64(-111.89)},
		{ID: 3, Name: "Harbor View", City: "Boston", State: "MA", Lat: f64(42.36), Lng: f64(-71.06)},
		{ID: 4, Name: "Prairie House", City: "Lake Forest", State: "IL"},
		{ID: 5, Name: "Equator Hut", City: "Null Island", State: "", Lat: f64(0), Lng: f64(0)},
	}
}

func sampleWeather() *fakeWeather {
	return &fakeWeather{readings: map[string]models.WeatherReading{
		"43.07,-89.40":  reading(0, 18, 40),
		"40.76,-111.89": reading(3, 25, 20),
		"42.36,-71.06":  reading(61, 12, 90),
		"0.00,0.00":     reading(0, 30, 80),
	}}
}

func parse(t *testing.T, query string) Request {
	t.Helper()
	q, err := url.ParseQuery(query)
	if err != nil {
		t.Fatal(err)
	}
	return ParseRequest(q)
}

func names(listings []models.PropertyListing) []string {
	out := make([]string, len(listings))
	for i, l := range listings {
		out[i] = l.Name
	}
	return out
}

func TestList_UnfilteredTextSearch(t *testing.T) {
	w := sampleWeather()
	svc := NewService(&fakeStore{props: sampleProperties()}, w, Options{})

	res, err := svc.List(context.Background(), parse(t, "searchText=%20Lake%20&limit=8"))
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []string{"Lakeside Cottage", "Downtown Loft", "Prairie House"}
	if got := names(res.Data); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("data = %v, want %v", got, want)
	}
	wantPage := Pagination{CurrentPage: 1, TotalPages: 1, TotalCount: 3, Limit: 8}
	if res.Pagination != wantPage {
		t.Errorf("pagination = %+v, want %+v", res.Pagination, wantPage)
	}
	for _, l := range res.Data {
		if l.Weather != nil {
			t.Errorf("%s has weather on the unfiltered path", l.Name)
		}
	}
	if w.calls.Load() != 0 {
		t.Errorf("weather calls = %d, want 0", w.calls.Load())
	}
}

func TestList_ConditionFilter(t *testing.T) {
	svc := NewService(&fakeStore{props: sampleProperties()}, sampleWeather(), Options{})

	res, err := svc.List(context.Background(), parse(t, "weatherCondition=%20Clear%20"))
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if got := names(res.Data); strings.Join(got, "|") != "Lakeside Cottage|Equator Hut" {
		t.Errorf("data = %v", got)
	}
	if res.Pagination.TotalCount != 2 {
		t.Errorf("totalCount = %d, want 2", res.Pagination.TotalCount)
	}
	for _, l := range res.Data {
		if l.Weather == nil {
			t.Fatalf("%s missing weather", l.Name)
		}
		if l.Weather.Current.WeatherCondition != models.ConditionClear {
			t.Errorf("%s condition = %q", l.Name, l.Weather.Current.WeatherCondition)
		}
	}
}

func TestList_RangeFiltersAreInclusive(t *testing.T) {
	svc := NewService(&fakeStore{props: sampleProperties()}, sampleWeather(), Options{})

	res, err := svc.List(context.Background(), parse(t, "temperatureMin=18&temperatureMax=25&humidityMax=40"))
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if got := names(res.Data); strings.Join(got, "|") != "Lakeside Cottage|Downtown Loft" {
		t.Errorf("data = %v", got)
	}
}

func TestList_NoCoordinatesYieldsEmptyPage(t *testing.T) {
	props := []models.Property{
		{ID: 1, Name: "A"},
		{ID: 2, Name: "B", Lat: f64(10)},
		{ID: 3, Name: "C", Lat: f64(200), Lng: f64(10)},
	}
	w := sampleWeather()
	svc := NewService(&fakeStore{props: props}, w, Options{})

	res, err := svc.List(context.Background(), parse(t, "weatherCondition=clear"))
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Data == nil || len(res.Data) != 0 {
		t.Errorf("data = %#v, want empty slice", res.Data)
	}
	want := Pagination{CurrentPage: 1, TotalPages: 0, TotalCount: 0, Limit: 8}
	if res.Pagination != want {
		t.Errorf("pagination = %+v, want %+v", res.Pagination, want)
	}
	if w.calls.Load() != 0 {
		t.Errorf("weather calls = %d, want 0", w.calls.Load())
	}
}

func TestList_FailedFetchesAreDropped(t *testing.T) {
	w := sampleWeather()
	w.fail = map[string]error{"43.07,-89.40": errors.New("upstream failure")}
	svc := NewService(&fakeStore{props: sampleProperties()}, w, Options{})

	res, err := svc.List(context.Background(), parse(t, "weatherCondition=clear"))
	if err != nil {
		t.Fatalf("List() error = %v, want failures to be non-fatal", err)
	}
	if got := names(res.Data); strings.Join(got, "|") != "Equator Hut" {
		t.Errorf("data = %v", got)
	}
}

func TestList_MalformedNumericsAreIgnored(t *testing.T) {
	w := sampleWeather()
	svc := NewService(&fakeStore{props: sampleProperties()}, w, Options{})

	res, err := svc.List(context.Background(), parse(t, "temperatureMin=warm&humidityMax="))
	if err != nil {
		t.Fatal(err)
	}
	if res.Pagination.TotalCount != 5 {
		t.Errorf("totalCount = %d, want 5 (unfiltered)", res.Pagination.TotalCount)
	}
	if w.calls.Load() != 0 {
		t.Errorf("weather calls = %d, want 0", w.calls.Load())
	}
}

func TestList_StoreErrorFailsRequest(t *testing.T) {
	storeErr := errors.New("connection refused")
	pub := &recordingPublisher{}
	svc := NewService(&fakeStore{err: storeErr}, sampleWeather(), Options{Publisher: pub})

	_, err := svc.List(context.Background(), parse(t, "weatherCondition=clear"))
	if !errors.Is(err, storeErr) {
		t.Errorf("List() error = %v, want %v", err, storeErr)
	}
	if len(pub.events) != 0 {
		t.Errorf("published %d events for a failed request", len(pub.events))
	}
}

func TestList_Pagination(t *testing.T) {
	props := make([]models.Property, 10)
	for i := range props {
		props[i] = models.Property{ID: int64(i + 1), Name: "Unit"}
	}
	svc := NewService(&fakeStore{props: props}, sampleWeather(), Options{})

	res, err := svc.List(context.Background(), parse(t, "limit=6&page=2"))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Data) != 4 || res.Data[0].ID != 7 {
		t.Errorf("page 2 = %d items starting at %d", len(res.Data), res.Data[0].ID)
	}
	want := Pagination{CurrentPage: 2, TotalPages: 2, TotalCount: 10, Limit: 6, HasPrevPage: true}
	if res.Pagination != want {
		t.Errorf("pagination = %+v, want %+v", res.Pagination, want)
	}
}

func TestList_FanOutIsBounded(t *testing.T) {
	props := make([]models.Property, 30)
	readings := make(map[string]models.WeatherReading)
	for i := range props {
		lat := float64(i)
		props[i] = models.Property{ID: int64(i + 1), Name: "Unit", Lat: f64(lat), Lng: f64(lat)}
		readings[models.Coordinate{Lat: lat, Lng: lat}.Key()] = reading(0, 20, 50)
	}
	w := &fakeWeather{readings: readings, delay: 5 * time.Millisecond}
	svc := NewService(&fakeStore{props: props}, w, Options{MaxConcurrentFetches: 4})

	res, err := svc.List(context.Background(), parse(t, "weatherCondition=clear&limit=50"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Pagination.TotalCount != 30 {
		t.Errorf("totalCount = %d, want 30", res.Pagination.TotalCount)
	}
	if got := w.maxInFlight.Load(); got > 4 {
		t.Errorf("max concurrent fetches = %d, want <= 4", got)
	}
	for i, l := range res.Data {
		if l.ID != int64(i+1) {
			t.Fatalf("order broken at %d: id %d", i, l.ID)
		}
	}
}

func TestList_FetchesSurviveRequestCancellation(t *testing.T) {
	w := sampleWeather()
	svc := NewService(&fakeStore{props: sampleProperties()}, w, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := svc.List(ctx, parse(t, "weatherCondition=clear")); err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if w.sawCanceled.Load() {
		t.Error("weather fetch observed the request cancellation")
	}
}

func TestList_PublishesSearchEvent(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	svc := NewService(&fakeStore{props: sampleProperties()}, sampleWeather(), Options{Publisher: pub})

	ctx := observability.WithCorrelationID(context.Background(), "corr-1")
	if _, err := svc.List(ctx, parse(t, "searchText=Lake&weatherCondition=clear&limit=3")); err != nil {
		t.Fatalf("List() error = %v, publisher errors must not fail the request", err)
	}
	if len(pub.events) != 1 {
		t.Fatalf("events = %d, want 1", len(pub.events))
	}
	ev := pub.events[0]
	if ev.ID == "" || ev.SearchText != "Lake" || !ev.HasWeatherFilters {
		t.Errorf("event = %+v", ev)
	}
	if ev.Candidates != 3 || ev.Matched != 1 || ev.Limit != 3 || ev.Page != 1 {
		t.Errorf("event counts = %+v", ev)
	}
	if ev.CorrelationID != "corr-1" {
		t.Errorf("CorrelationID = %q", ev.CorrelationID)
	}
}

func TestList_LogsWeatherSummary(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	ctx := observability.WithLogger(context.Background(), zap.New(core))
	w := sampleWeather()
	w.fail = map[string]error{"42.36,-71.06": errors.New("timeout")}
	svc := NewService(&fakeStore{props: sampleProperties()}, w, Options{})

	if _, err := svc.List(ctx, parse(t, "weatherCondition=cloudy")); err != nil {
		t.Fatal(err)
	}

	summaries := logs.FilterMessage("weather filter summary").All()
	if len(summaries) != 1 {
		t.Fatalf("summary logs = %d, want 1", len(summaries))
	}
	fields := summaries[0].ContextMap()
	if fields["withCoordinates"] != int64(4) || fields["withWeather"] != int64(3) || fields["matched"] != int64(1) {
		t.Errorf("summary fields = %v", fields)
	}
	if fields["temperatureMin"] != float64(18) || fields["temperatureMax"] != float64(30) {
		t.Errorf("temperature range = %v..%v", fields["temperatureMin"], fields["temperatureMax"])
	}

	warns := logs.FilterMessage("weather fetch failed").All()
	if len(warns) != 1 || warns[0].Level != zapcore.WarnLevel {
		t.Fatalf("fetch failure logs = %v", warns)
	}
	if key := warns[0].ContextMap()["key"]; key != "42.36,-71.06" {
		t.Errorf("failure key = %v", key)
	}
}
