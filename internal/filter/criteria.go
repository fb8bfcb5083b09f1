// Package filter decides whether a weather reading satisfies listing query criteria.
package filter

import (
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/kjstillabower/property-weather-service/internal/models"
)

// Query parameter names accepted by ParseCriteria.
const (
	ParamWeatherCondition = "weatherCondition"
	ParamTemperatureMin   = "temperatureMin"
	ParamTemperatureMax   = "temperatureMax"
	ParamHumidityMin      = "humidityMin"
	ParamHumidityMax      = "humidityMax"
)

// Criteria holds optional weather constraints. A nil bound or empty condition
// imposes no constraint.
type Criteria struct {
	TemperatureMin *float64 `json:"temperatureMin,omitempty"`
	TemperatureMax *float64 `json:"temperatureMax,omitempty"`
	HumidityMin    *float64 `json:"humidityMin,omitempty"`
	HumidityMax    *float64 `json:"humidityMax,omitempty"`
	Condition      string   `json:"weatherCondition,omitempty"`
}

// HasAny reports whether at least one constraint is set.
func (c Criteria) HasAny() bool {
	return c.TemperatureMin != nil || c.TemperatureMax != nil ||
		c.HumidityMin != nil || c.HumidityMax != nil ||
		c.Condition != ""
}

// Matches reports whether r satisfies every set constraint. Bounds are inclusive.
func (c Criteria) Matches(r models.WeatherReading) bool {
	if !within(r.Temperature, c.TemperatureMin, c.TemperatureMax) {
		return false
	}
	if !within(r.Humidity, c.HumidityMin, c.HumidityMax) {
		return false
	}
	if c.Condition != "" && r.Condition() != c.Condition {
		return false
	}
	return true
}

func within(v float64, min, max *float64) bool {
	if min != nil && v < *min {
		return false
	}
	if max != nil && v > *max {
		return false
	}
	return true
}

// ParseCriteria reads criteria from query parameters. Empty, malformed or
// non-finite numbers are treated as unspecified rather than rejected.
func ParseCriteria(q url.Values) Criteria {
	return Criteria{
		TemperatureMin: parseBound(q.Get(ParamTemperatureMin)),
		TemperatureMax: parseBound(q.Get(ParamTemperatureMax)),
		HumidityMin:    parseBound(q.Get(ParamHumidityMin)),
		HumidityMax:    parseBound(q.Get(ParamHumidityMax)),
		// Labels are lower case, so "Rainy" and " rainy" select the same readings.
		Condition: strings.ToLower(strings.TrimSpace(q.Get(ParamWeatherCondition))),
	}
}

func parseBound(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
