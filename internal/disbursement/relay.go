package disbursement

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/congo-pay/custody_ledger/internal/ledger"
)

const (
	defaultInterval  = 5 * time.Second
	defaultBatchSize = 100
)

// Relay moves committed instructions from the ledger outbox to a Sink.
// An instruction is marked disbursed only after the sink accepted it, so a
// crash between the two steps republishes it on the next pass.
type Relay struct {
	outbox    ledger.Outbox
	sink      Sink
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	now       func() time.Time
	kick      chan struct{}
}

// RelayOption customizes a Relay.
type RelayOption func(*Relay)

func WithInterval(d time.Duration) RelayOption {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithBatchSize(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithLogger(l *slog.Logger) RelayOption {
	return func(r *Relay) { r.logger = l }
}

func NewRelay(outbox ledger.Outbox, sink Sink, opts ...RelayOption) *Relay {
	r := &Relay{
		outbox:    outbox,
		sink:      sink,
		logger:    slog.Default(),
		interval:  defaultInterval,
		batchSize: defaultBatchSize,
		now:       func() time.Time { return time.Now().UTC() },
		kick:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Kick asks the relay to flush without waiting for the next tick. It never blocks.
func (r *Relay) Kick() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Run flushes on every tick or kick until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.flushAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-r.kick:
		}
		r.flushAndLog(ctx)
	}
}

func (r *Relay) flushAndLog(ctx context.Context) {
	n, err := r.Flush(ctx)
	if err != nil && ctx.Err() == nil {
		r.logger.Error("disbursement relay failed", slog.Int("delivered", n), slog.Any("error", err))
		return
	}
	if n > 0 {
		r.logger.Info("disbursements delivered", slog.Int("count", n))
	}
}

// Flush publishes pending instructions until the outbox is empty or a
// publish fails. It returns how many were delivered.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	delivered := 0
	for {
		pending, err := r.outbox.PendingDisbursements(ctx, r.batchSize)
		if err != nil {
			return delivered, err
		}
		if len(pending) == 0 {
			return delivered, nil
		}

		for _, d := range pending {
			if err := r.sink.Publish(ctx, d); err != nil {
				return delivered, err
			}
			if err := r.outbox.MarkDisbursed(ctx, d.ID, r.now()); err != nil {
				// Another relay marked it first.
				if errors.Is(err, ledger.ErrNotFound) {
					continue
				}
				return delivered, err
			}
			delivered++
		}

		if len(pending) < r.batchSize {
			return delivered, nil
		}
	}
}
