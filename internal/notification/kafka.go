package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer used by the notifier.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaNotifier publishes events as JSON to a Kafka topic.
type KafkaNotifier struct {
	writer MessageWriter
}

// NewKafkaNotifier builds a notifier on top of a configured writer.
func NewKafkaNotifier(writer MessageWriter) *KafkaNotifier {
	return &KafkaNotifier{writer: writer}
}

// Send serializes the message and writes it keyed by kind.
func (n *KafkaNotifier) Send(ctx context.Context, message Message) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(message.Kind),
		Value: payload,
	}); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}
