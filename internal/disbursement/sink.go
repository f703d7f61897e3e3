package disbursement

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/congo-pay/custody_ledger/internal/ledger"
)

// Sink hands a committed disbursement instruction to the custody system.
type Sink interface {
	Publish(ctx context.Context, d ledger.Disbursement) error
}

// MessageWriter is the subset of *kafka.Writer used by KafkaSink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaSink publishes instructions as JSON, keyed by recipient so that all
// instructions for one account land on the same partition.
type KafkaSink struct {
	writer MessageWriter
}

func NewKafkaSink(writer MessageWriter) *KafkaSink {
	return &KafkaSink{writer: writer}
}

func (s *KafkaSink) Publish(ctx context.Context, d ledger.Disbursement) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode disbursement %s: %w", d.ID, err)
	}
	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(d.Recipient),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "disbursement_id", Value: []byte(d.ID.String())},
		},
	})
	if err != nil {
		return fmt.Errorf("publish disbursement %s: %w", d.ID, err)
	}
	return nil
}

// LogSink only logs instructions. Used in development when no broker is configured.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Publish(_ context.Context, d ledger.Disbursement) error {
	s.logger.Info("disbursement instruction",
		slog.String("id", d.ID.String()),
		slog.String("recipient", d.Recipient.String()),
		slog.String("asset", d.Asset),
		slog.String("amount", d.Amount.String()),
	)
	return nil
}
