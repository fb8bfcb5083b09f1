// Package events publishes a record of each completed property search.
package events

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// SearchEvent describes one successful listing request.
type SearchEvent struct {
	ID                string    `json:"id"`
	SearchText        string    `json:"searchText"`
	HasWeatherFilters bool      `json:"hasWeatherFilters"`
	Candidates        int       `json:"candidates"`
	Matched           int       `json:"matched"`
	Page              int       `json:"page"`
	Limit             int       `json:"limit"`
	DurationMs        int64     `json:"durationMs"`
	OccurredAt        time.Time `json:"occurredAt"`
	CorrelationID     string    `json:"correlationId,omitempty"`
}

// NewSearchEvent returns an event stamped at with a lexically sortable ULID.
func NewSearchEvent(at time.Time) SearchEvent {
	return SearchEvent{
		ID:         ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy()).String(),
		OccurredAt: at.UTC(),
	}
}

// Publisher delivers search events. Publish must not block on the broker.
type Publisher interface {
	Publish(ctx context.Context, ev SearchEvent) error
	Close() error
}

// NopPublisher discards every event. Used when publishing is disabled.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, SearchEvent) error { return nil }
func (NopPublisher) Close() error                               { return nil }
