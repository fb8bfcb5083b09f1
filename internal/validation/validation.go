package validation

import (
	"errors"
	"math"
	"strings"
	"unicode"
)

var (
	// ErrCoordinateMissing is returned when either coordinate is absent.
	ErrCoordinateMissing = errors.New("coordinate missing")

	// ErrCoordinateNotFinite is returned for NaN or infinite coordinates.
	ErrCoordinateNotFinite = errors.New("coordinate not finite")

	// ErrLatitudeOutOfRange is returned when latitude is outside [-90, 90].
	ErrLatitudeOutOfRange = errors.New("latitude out of range")

	// ErrLongitudeOutOfRange is returned when longitude is outside [-180, 180].
	ErrLongitudeOutOfRange = errors.New("longitude out of range")
)

// ValidateCoordinate checks that both coordinates are present, finite and
// within WGS84 bounds. Zero is a valid value for either.
func ValidateCoordinate(lat, lng *float64) error {
	if lat == nil || lng == nil {
		return ErrCoordinateMissing
	}
	for _, v := range [...]float64{*lat, *lng} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ErrCoordinateNotFinite
		}
	}
	if *lat < -90 || *lat > 90 {
		return ErrLatitudeOutOfRange
	}
	if *lng < -180 || *lng > 180 {
		return ErrLongitudeOutOfRange
	}
	return nil
}

// NormalizeSearchText trims surrounding whitespace and drops control characters.
// An empty result means "no text constraint".
func NormalizeSearchText(input string) string {
	s := strings.TrimSpace(input)
	if strings.IndexFunc(s, unicode.IsControl) < 0 {
		return s
	}
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s))
}
