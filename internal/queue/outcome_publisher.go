package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// OutcomePublisher publishes send outcomes to the outcome topic.
type OutcomePublisher struct {
	writer *kafka.Writer
}

// NewOutcomePublisher constructs a publisher for the given topic.
func NewOutcomePublisher(k *Kafka, topic string) *OutcomePublisher {
	return &OutcomePublisher{
		writer: k.NewWriter(topic),
	}
}

// Publish writes the outcome event to Kafka.
func (p *OutcomePublisher) Publish(ctx context.Context, event OutcomeEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("outcome publisher: marshal event: %w", err)
	}

	record := kafka.Message{
		Key:   event.MessageID[:],
		Value: value,
		Time:  time.Now().UTC(),
	}

	if err := p.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("outcome publisher: write message: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (p *OutcomePublisher) Close() error {
	return p.writer.Close()
}
