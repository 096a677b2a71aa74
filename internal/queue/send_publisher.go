package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// SendPublisher publishes due send jobs to the send topic.
type SendPublisher struct {
	writer *kafka.Writer
}

// NewSendPublisher constructs a publisher for the given topic.
func NewSendPublisher(k *Kafka, topic string) *SendPublisher {
	return &SendPublisher{
		writer: k.NewWriter(topic),
	}
}

// Publish writes the send job to Kafka.
func (p *SendPublisher) Publish(ctx context.Context, job SendJob) error {
	value, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("send publisher: marshal job: %w", err)
	}

	record := kafka.Message{
		Key:   job.MessageID[:],
		Value: value,
		Time:  time.Now().UTC(),
	}

	if err := p.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("send publisher: write message: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (p *SendPublisher) Close() error {
	return p.writer.Close()
}
