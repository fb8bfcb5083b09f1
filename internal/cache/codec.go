package cache

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/kjstillabower/property-weather-service/internal/models"
)

// keyPrefix namespaces weather entries in shared memcached/redis deployments.
const keyPrefix = "weather:"

func encodeReading(r models.WeatherReading) ([]byte, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode cached reading: %w", err)
	}
	return raw, nil
}

func decodeReading(raw []byte) (models.WeatherReading, error) {
	var r models.WeatherReading
	if err := json.Unmarshal(raw, &r); err != nil {
		return models.WeatherReading{}, fmt.Errorf("decode cached reading: %w", err)
	}
	return r, nil
}
