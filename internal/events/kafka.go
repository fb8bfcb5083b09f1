package events

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/kjstillabower/property-weather-service/internal/observability"
)

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes search events to a Kafka topic, keyed by event id.
// The writer is asynchronous; delivery failures are logged and counted from
// the completion callback.
type KafkaPublisher struct {
	writer messageWriter
	logger *zap.Logger
}

// NewKafkaPublisher creates a publisher for topic on brokers.
func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		BatchTimeout: 100 * time.Millisecond,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				observability.SearchEventsPublishedTotal.WithLabelValues("error").Add(float64(len(messages)))
				logger.Warn("search event delivery failed", zap.Int("messages", len(messages)), zap.Error(err))
				return
			}
			observability.SearchEventsPublishedTotal.WithLabelValues("success").Add(float64(len(messages)))
		},
	}
	return &KafkaPublisher{writer: w, logger: logger}
}

func newKafkaPublisherWithWriter(w messageWriter, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: w, logger: logger}
}

// Publish encodes ev as JSON and hands it to the writer.
func (p *KafkaPublisher) Publish(ctx context.Context, ev SearchEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		observability.SearchEventsPublishedTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("encode search event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.ID),
		Value: payload,
		Time:  ev.OccurredAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		observability.SearchEventsPublishedTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("publish search event: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
