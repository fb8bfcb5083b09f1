package filter

import (
	"fmt"
	"net/url"
	"testing"

	"github.com/kjstillabower/property-weather-service/internal/models"
)

func ptr(v float64) *float64 { return &v }

// TestCriteria_Matches_EmptyCriteria verifies that criteria with no fields set
// match any reading.
func TestCriteria_Matches_EmptyCriteria(t *testing.T) {
	readings := []models.WeatherReading{
		{},
		{Temperature: -40, Humidity: 0, WeatherCode: 71},
		{Temperature: 45, Humidity: 100, WeatherCode: 95},
	}
	var c Criteria
	for _, r := range readings {
		if !c.Matches(r) {
			t.Errorf("Criteria{}.Matches(%+v) = false, want true", r)
		}
	}
}

func TestCriteria_Matches_Bounds(t *testing.T) {
	tests := []struct {
		name     string
		criteria Criteria
		reading  models.WeatherReading
		want     bool
	}{
		{"temp at min", Criteria{TemperatureMin: ptr(10)}, models.WeatherReading{Temperature: 10}, true},
		{"temp below min", Criteria{TemperatureMin: ptr(10)}, models.WeatherReading{Temperature: 9.99}, false},
		{"temp at max", Criteria{TemperatureMax: ptr(25)}, models.WeatherReading{Temperature: 25}, true},
		{"temp above max", Criteria{TemperatureMax: ptr(25)}, models.WeatherReading{Temperature: 25.01}, false},
		{"temp inside range", Criteria{TemperatureMin: ptr(10), TemperatureMax: ptr(25)}, models.WeatherReading{Temperature: 18}, true},
		{"humidity at min", Criteria{HumidityMin: ptr(40)}, models.WeatherReading{Humidity: 40}, true},
		{"humidity below min", Criteria{HumidityMin: ptr(40)}, models.WeatherReading{Humidity: 39}, false},
		{"humidity at max", Criteria{HumidityMax: ptr(80)}, models.WeatherReading{Humidity: 80}, true},
		{"humidity above max", Criteria{HumidityMax: ptr(80)}, models.WeatherReading{Humidity: 81}, false},
		{"condition match", Criteria{Condition: "clear"}, models.WeatherReading{WeatherCode: 0}, true},
		{"condition mismatch", Criteria{Condition: "clear"}, models.WeatherReading{WeatherCode: 2}, false},
		{"condition unknown label", Criteria{Condition: "sunny"}, models.WeatherReading{WeatherCode: 0}, false},
		{
			"all dimensions satisfied",
			Criteria{TemperatureMin: ptr(0), TemperatureMax: ptr(5), HumidityMin: ptr(60), HumidityMax: ptr(90), Condition: "snow"},
			models.WeatherReading{Temperature: 2, Humidity: 75, WeatherCode: 73},
			true,
		},
		{
			"one dimension fails",
			Criteria{TemperatureMin: ptr(0), TemperatureMax: ptr(5), Condition: "snow"},
			models.WeatherReading{Temperature: 2, WeatherCode: 61},
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.criteria.Matches(tt.reading); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseCriteria(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		want    Criteria
		wantAny bool
	}{
		{name: "empty", query: "", want: Criteria{}, wantAny: false},
		{name: "search only", query: "searchText=Lake&page=2", want: Criteria{}, wantAny: false},
		{
			name:    "all numeric",
			query:   "temperatureMin=10&temperatureMax=25.5&humidityMin=30&humidityMax=70",
			want:    Criteria{TemperatureMin: ptr(10), TemperatureMax: ptr(25.5), HumidityMin: ptr(30), HumidityMax: ptr(70)},
			wantAny: true,
		},
		{name: "negative", query: "temperatureMin=-5", want: Criteria{TemperatureMin: ptr(-5)}, wantAny: true},
		{name: "malformed ignored", query: "temperatureMin=abc&humidityMax=", want: Criteria{}, wantAny: false},
		{name: "non-finite ignored", query: "temperatureMax=NaN&humidityMin=Inf", want: Criteria{}, wantAny: false},
		{name: "condition normalized", query: "weatherCondition=%20Clear%20", want: Criteria{Condition: "clear"}, wantAny: true},
		{name: "empty condition", query: "weatherCondition=", want: Criteria{}, wantAny: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := url.ParseQuery(tt.query)
			if err != nil {
				t.Fatalf("ParseQuery: %v", err)
			}
			got := ParseCriteria(q)
			if !equalBound(got.TemperatureMin, tt.want.TemperatureMin) ||
				!equalBound(got.TemperatureMax, tt.want.TemperatureMax) ||
				!equalBound(got.HumidityMin, tt.want.HumidityMin) ||
				!equalBound(got.HumidityMax, tt.want.HumidityMax) ||
				got.Condition != tt.want.Condition {
				t.Errorf("ParseCriteria(%q) = %s, want %s", tt.query, describe(got), describe(tt.want))
			}
			if got.HasAny() != tt.wantAny {
				t.Errorf("HasAny() = %v, want %v", got.HasAny(), tt.wantAny)
			}
		})
	}
}

func equalBound(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func describe(c Criteria) string {
	f := func(p *float64) string {
		if p == nil {
			return "nil"
		}
		return fmt.Sprint(*p)
	}
	return fmt.Sprintf("{tmin=%s tmax=%s hmin=%s hmax=%s cond=%q}",
		f(c.TemperatureMin), f(c.TemperatureMax), f(c.HumidityMin), f(c.HumidityMax), c.Condition)
}
