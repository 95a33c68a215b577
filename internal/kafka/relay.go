package kafka

import (
	"context"
	"time"

	"github.com/ariefcatur/go-order-payments/internal/orders"
	"go.uber.org/zap"
)

const (
	defaultRelayInterval = time.Second
	defaultRelayBatch    = 100
)

// Relay moves lifecycle events from the outbox to Kafka. A batch leaves the
// outbox only after the brokers acknowledged it, so an event is delivered at
// least once even across crashes.
type Relay struct {
	Outbox   orders.Outbox
	Producer *Producer
	Interval time.Duration
	Batch    int
	Log      *zap.Logger
}

func (r *Relay) batch() int {
	if r.Batch > 0 {
		return r.Batch
	}
	return defaultRelayBatch
}

// Run drains the outbox every Interval until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	interval := r.Interval
	if interval <= 0 {
		interval = defaultRelayInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			r.drain(ctx)
		}
	}
}

// drain flushes full batches until the outbox runs short or a write fails.
func (r *Relay) drain(ctx context.Context) {
	for ctx.Err() == nil {
		n, err := r.Flush(ctx)
		if err != nil {
			if ctx.Err() == nil && r.Log != nil {
				r.Log.Warn("outbox_relay_failed", zap.Error(err))
			}
			return
		}
		if n < r.batch() {
			return
		}
	}
}

// Flush relays one batch and reports how many events left the outbox.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	return r.Outbox.Drain(ctx, r.batch(), r.Producer.WriteEnvelopes)
}
