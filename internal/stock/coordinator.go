package stock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-payments/internal/logging"
	"github.com/ariefcatur/go-order-payments/internal/metrics"
	"github.com/ariefcatur/go-order-payments/internal/orders"
	"go.uber.org/zap"
)

const defaultReleaseTimeout = 5 * time.Second

// Coordinator keeps inventory consistent with order outcome.
//
// Reserve is all-or-nothing and its error aborts order creation; a reserve
// that may have landed without a reply is undone before returning. Release is
// the compensating action: best effort, bounded by ReleaseTimeout, never
// returns an error, because a stuck inventory service must not block the
// status change that triggered it. A failed release leaves the order in
// StockReleaseFailed for manual reconciliation.
type Coordinator struct {
	Inventory      Inventory
	ReleaseTimeout time.Duration
	Log            *zap.Logger
	Metrics        *metrics.Metrics
}

func (c *Coordinator) Reserve(ctx context.Context, o *orders.Order) error {
	req := adjustment(o, KindReserve, -1)
	start := time.Now()
	_, err := c.Inventory.Adjust(ctx, req)
	took := time.Since(start)

	log := logging.FromContext(ctx, c.Log).With(
		zap.String("order_token", o.Token),
		zap.String("merchant_id", o.MerchantID),
	)
	if err != nil {
		outcome := "error"
		if errors.Is(err, ErrInsufficientStock) {
			outcome = "insufficient"
		}
		c.Metrics.StockCall(string(KindReserve), outcome, took)
		log.Warn("stock_reserve_failed", zap.Error(err))
		if ambiguous(err) {
			c.undoReserve(ctx, o, log)
		}
		return fmt.Errorf("reserve stock for %s: %w", o.Token, err)
	}

	c.Metrics.StockCall(string(KindReserve), "ok", took)
	o.MarkStockReserved()
	log.Debug("stock_reserved", zap.Int("items", len(req.Items)))
	return nil
}

// ambiguous reports whether a failed reserve may still have been applied.
func ambiguous(err error) bool {
	return errors.Is(err, ErrInventoryUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

// undoReserve sends the release for a reserve whose reply was lost. The
// inventory applies it only if the reserve landed, and a reserve arriving
// after it is dropped.
func (c *Coordinator) undoReserve(ctx context.Context, o *orders.Order, log *zap.Logger) {
	took, err := c.release(ctx, o)
	if err != nil {
		c.Metrics.StockCall("undo_reserve", "error", took)
		log.Error("stock_reserve_undo_failed",
			zap.Bool("needs_reconciliation", true),
			zap.Error(err),
		)
		return
	}
	c.Metrics.StockCall("undo_reserve", "ok", took)
	log.Info("stock_reserve_undone")
}

// Release returns the order's reserved stock. It reports whether the
// inventory accepted the release; orders that hold no reservation are skipped.
func (c *Coordinator) Release(ctx context.Context, o *orders.Order) bool {
	if o.StockState() != orders.StockReserved {
		return false
	}

	took, err := c.release(ctx, o)
	log := logging.FromContext(ctx, c.Log)
	if err != nil {
		c.Metrics.StockCall(string(KindRelease), "error", took)
		log.Error("stock_release_failed",
			zap.String("order_token", o.Token),
			zap.String("merchant_id", o.MerchantID),
			zap.Any("items", adjustment(o, KindRelease, 1).Items),
			zap.Bool("needs_reconciliation", true),
			zap.Error(err),
		)
		o.MarkStockReleased(false)
		return false
	}

	c.Metrics.StockCall(string(KindRelease), "ok", took)
	o.MarkStockReleased(true)
	log.Info("stock_released", zap.String("order_token", o.Token), zap.Int("items", len(o.Items())))
	return true
}

// release sends the inverse adjustment, detached from the caller and bounded
// by ReleaseTimeout.
func (c *Coordinator) release(ctx context.Context, o *orders.Order) (time.Duration, error) {
	timeout := c.ReleaseTimeout
	if timeout <= 0 {
		timeout = defaultReleaseTimeout
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	start := time.Now()
	_, err := c.Inventory.Adjust(rctx, adjustment(o, KindRelease, 1))
	return time.Since(start), err
}

// CompensateAndTransition releases stock when entering a compensating status
// and then moves the order. The transition is validated first so stock is
// never released for a move that would be rejected.
func (c *Coordinator) CompensateAndTransition(ctx context.Context, o *orders.Order, to orders.Status, at time.Time) error {
	if !o.CanTransition(to) {
		return &orders.InvalidStatusTransitionError{From: o.Status(), To: to}
	}
	if to.Compensating() {
		c.Release(ctx, o)
	}
	return o.Transition(to, at)
}

func adjustment(o *orders.Order, kind Kind, sign int) AdjustRequest {
	items := o.Items()
	deltas := make([]Delta, 0, len(items))
	for _, it := range items {
		deltas = append(deltas, Delta{ProductID: it.ProductID, Delta: sign * it.Quantity})
	}
	return AdjustRequest{
		MerchantID: o.MerchantID,
		Reference:  o.Token,
		Kind:       kind,
		Items:      deltas,
	}
}
