// Package reclaimer fails orders that were never paid and gives their stock back.
package reclaimer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-payments/internal/metrics"
	"github.com/ariefcatur/go-order-payments/internal/orders"
	"github.com/ariefcatur/go-order-payments/internal/stock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	DefaultInterval = 10 * time.Minute
	DefaultGrace    = 15 * time.Minute
	DefaultBatch    = 100
)

// errNotStale aborts an update whose order changed since it was listed.
var errNotStale = errors.New("order no longer stale")

type Report struct {
	Scanned   int `json:"scanned"`
	Reclaimed int `json:"reclaimed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

type Reclaimer struct {
	Store     orders.Store
	Stock     *stock.Coordinator
	Publisher orders.Publisher
	Producer  string
	Interval  time.Duration
	Grace     time.Duration
	Batch     int
	Log       *zap.Logger
	Metrics   *metrics.Metrics
	Tracer    trace.Tracer
	Now       func() time.Time
}

func (r *Reclaimer) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func (r *Reclaimer) log() *zap.Logger {
	if r.Log != nil {
		return r.Log
	}
	return zap.NewNop()
}

// Run sweeps every Interval until ctx is done.
func (r *Reclaimer) Run(ctx context.Context) error {
	interval := r.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.log().Info("reclaimer_started", zap.Duration("interval", interval), zap.Duration("grace", r.grace()))
	for {
		select {
		case <-ctx.Done():
			r.log().Info("reclaimer_stopped")
			return nil
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.log().Error("reclaim_sweep_failed", zap.Error(err))
			}
		}
	}
}

func (r *Reclaimer) grace() time.Duration {
	if r.Grace <= 0 {
		return DefaultGrace
	}
	return r.Grace
}

// Sweep reclaims one batch of stale PENDING orders. A failing order is
// counted and logged; the sweep moves on to the next one.
func (r *Reclaimer) Sweep(ctx context.Context) (Report, error) {
	tracer := r.Tracer
	if tracer == nil {
		tracer = otel.Tracer("order-payments/reclaimer")
	}
	ctx, span := tracer.Start(ctx, "reclaimer.sweep")
	defer span.End()

	start := time.Now()
	var rep Report
	defer func() { r.Metrics.SweepDone(time.Since(start)) }()

	batch := r.Batch
	if batch <= 0 {
		batch = DefaultBatch
	}
	cutoff := r.now().Add(-r.grace())

	tokens, err := r.Store.ListStale(ctx, orders.StatusPending, cutoff, batch)
	if err != nil {
		span.RecordError(err)
		return rep, fmt.Errorf("list stale orders: %w", err)
	}
	rep.Scanned = len(tokens)

	for _, token := range tokens {
		if ctx.Err() != nil {
			break
		}
		switch err := r.reclaim(ctx, token, cutoff); {
		case err == nil:
			rep.Reclaimed++
			r.Metrics.Reclaimed("reclaimed")
		case errors.Is(err, errNotStale), errors.Is(err, orders.ErrNotFound):
			rep.Skipped++
			r.Metrics.Reclaimed("skipped")
		default:
			rep.Failed++
			r.Metrics.Reclaimed("failed")
			r.log().Error("reclaim_order_failed", zap.String("order_token", token), zap.Error(err))
		}
	}

	span.SetAttributes(
		attribute.Int("reclaimer.scanned", rep.Scanned),
		attribute.Int("reclaimer.reclaimed", rep.Reclaimed),
		attribute.Int("reclaimer.failed", rep.Failed),
	)
	fields := []zap.Field{
		zap.Int("scanned", rep.Scanned),
		zap.Int("reclaimed", rep.Reclaimed),
		zap.Int("skipped", rep.Skipped),
		zap.Int("failed", rep.Failed),
		zap.Duration("took", time.Since(start)),
	}
	if rep.Scanned == batch {
		fields = append(fields, zap.Bool("batch_full", true))
	}
	r.log().Info("reclaim_sweep_done", fields...)
	return rep, nil
}

func (r *Reclaimer) reclaim(ctx context.Context, token string, cutoff time.Time) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	var since int
	updated, err := r.Store.Update(ctx, token, func(ctx context.Context, o *orders.Order) error {
		// a webhook may have landed between listing and locking
		if o.Status() != orders.StatusPending || !o.CreatedAt.Before(cutoff) {
			return errNotStale
		}
		since = len(o.History())
		return r.Stock.CompensateAndTransition(ctx, o, orders.StatusFailed, r.now())
	})
	if err != nil {
		return err
	}

	for _, mv := range orders.Moves(updated, since) {
		r.Metrics.Transition(string(mv.From), string(mv.To))
	}
	orders.PublishChanges(ctx, r.Publisher, r.Producer, updated, since, r.log())
	r.log().Info("order_reclaimed",
		zap.String("order_token", token),
		zap.String("stock_state", string(updated.StockState())),
	)
	return nil
}
