package publish

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes every event to a single topic keyed by event name.
type KafkaPublisher struct {
	w messageWriter
}

// NewKafkaPublisher returns a publisher writing to topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
	}
}

// Publish writes payload as one JSON message.
func (p *KafkaPublisher) Publish(ctx context.Context, event string, payload any) error {
	b, err := encode(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}

	msg := kafka.Message{
		Key:   []byte(event),
		Value: b,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(event)},
			{Key: "message-id", Value: []byte(uuid.NewString())},
		},
	}

	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka publish %s: %w", event, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}
