package models

import "fmt"

// Weather condition labels derived from WMO weather codes.
const (
	ConditionClear   = "clear"
	ConditionCloudy  = "cloudy"
	ConditionDrizzle = "drizzle"
	ConditionRainy   = "rainy"
	ConditionSnow    = "snow"
	ConditionUnknown = "unknown"
)

// WeatherReading is the current weather at a coordinate as reported by the provider.
// It is attached to listing responses only and never persisted.
type WeatherReading struct {
	Temperature      float64 `json:"temperature"`
	WindSpeed        float64 `json:"windSpeed"`
	WeatherCode      int     `json:"weatherCode"`
	WeatherCondition string  `json:"weatherCondition"`
	Time             string  `json:"time"`
	Humidity         float64 `json:"humidity"`
}

// Condition returns the label for the reading's weather code.
func (r WeatherReading) Condition() string {
	return ClassifyWeatherCode(r.WeatherCode)
}

// ClassifyWeatherCode maps a WMO weather code to one of the condition labels.
func ClassifyWeatherCode(code int) string {
	switch {
	case code == 0:
		return ConditionClear
	case code >= 1 && code <= 3:
		return ConditionCloudy
	case code >= 51 && code <= 57:
		return ConditionDrizzle
	case code >= 61 && code <= 67, code >= 80 && code <= 82:
		return ConditionRainy
	case code >= 71 && code <= 77, code >= 85 && code <= 86:
		return ConditionSnow
	default:
		return ConditionUnknown
	}
}

// Coordinate is a latitude/longitude pair in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Key returns the cache key for the coordinate, rounded to two decimal places (~1.1km).
func (c Coordinate) Key() string {
	return fmt.Sprintf("%.2f,%.2f", c.Lat, c.Lng)
}
