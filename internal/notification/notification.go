package notification

import (
	"context"
	"log/slog"
)

const (
	// KindInstantiate is emitted once when the ledger is configured.
	KindInstantiate = "instantiate"
	// KindDeposit is emitted after a successful deposit.
	KindDeposit = "deposit_funds"
	// KindTransfer is emitted after a successful transfer.
	KindTransfer = "transfer_fund"
	// KindWithdraw is emitted after a successful withdraw.
	KindWithdraw = "withdraw"
)

// Attribute is a key/value pair describing an event.
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Message describes a ledger event.
type Message struct {
	Kind       string      `json:"kind"`
	Attributes []Attribute `json:"attributes"`
}

// Attr returns the value of key, or "" when absent.
func (m Message) Attr(key string) string {
	for _, a := range m.Attributes {
		if a.Key == key {
			return a.Value
		}
	}
	return ""
}

// Notifier delivers ledger events to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// Multi fans a message out to several notifiers and returns the first error.
type Multi []Notifier

// Send delivers the message to every notifier.
func (m Multi) Send(ctx context.Context, message Message) error {
	var first error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Send(ctx, message); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// LoggerNotifier writes events to the structured logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	attrs := make([]any, 0, len(message.Attributes)+1)
	attrs = append(attrs, slog.String("kind", message.Kind))
	for _, a := range message.Attributes {
		attrs = append(attrs, slog.String(a.Key, a.Value))
	}
	n.logger.Info("ledger event", attrs...)
	return nil
}
