package models

import "time"

// Property is a listing row as stored by the persistence layer.
type Property struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	City      string    `json:"city"`
	State     string    `json:"state"`
	Country   string    `json:"country"`
	Lat       *float64  `json:"lat"`
	Lng       *float64  `json:"lng"`
	Geohash5  *string   `json:"geohash5"`
	IsActive  bool      `json:"isActive"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Coordinate returns the property's location and false when either coordinate is missing.
func (p Property) Coordinate() (Coordinate, bool) {
	if p.Lat == nil || p.Lng == nil {
		return Coordinate{}, false
	}
	return Coordinate{Lat: *p.Lat, Lng: *p.Lng}, true
}

// PropertyWeather wraps the reading under the "current" key of a listing.
type PropertyWeather struct {
	Current WeatherReading `json:"current"`
}

// PropertyListing is a property as returned by the listing endpoint.
// Weather is set only on the weather-filtered path.
type PropertyListing struct {
	Property
	Weather *PropertyWeather `json:"weather,omitempty"`
}
