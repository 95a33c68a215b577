package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-payments/internal/ledger"
	"github.com/ariefcatur/go-order-payments/internal/logging"
	"github.com/ariefcatur/go-order-payments/internal/metrics"
	"github.com/ariefcatur/go-order-payments/internal/orders"
	"github.com/ariefcatur/go-order-payments/internal/stock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var ErrAmountMismatch = errors.New("webhook amount does not match payment amount")

type Outcome string

const (
	OutcomeProcessed      Outcome = "processed"
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomeRejected       Outcome = "rejected"
	OutcomeAmountMismatch Outcome = "amount_mismatch"
	OutcomeIgnored        Outcome = "ignored"
	OutcomeError          Outcome = "error"
)

type Result struct {
	Outcome       Outcome              `json:"outcome"`
	EventID       string               `json:"event_id,omitempty"`
	OrderToken    string               `json:"order_token,omitempty"`
	OrderStatus   orders.Status        `json:"order_status,omitempty"`
	PaymentStatus orders.PaymentStatus `json:"payment_status,omitempty"`
	Unverified    bool                 `json:"unverified,omitempty"`
	Reason        string               `json:"reason,omitempty"`
	Err           error                `json:"-"`
}

// Dispatcher admits payment webhooks. A nil Verifier runs it unverified:
// events are processed and flagged, for local development only.
type Dispatcher struct {
	Verifier  *Verifier
	Store     orders.Store
	Ledger    ledger.Ledger
	Stock     *stock.Coordinator
	Publisher orders.Publisher
	Producer  string
	Log       *zap.Logger
	Metrics   *metrics.Metrics
	Tracer    trace.Tracer
	Now       func() time.Time
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

func (d *Dispatcher) tracer() trace.Tracer {
	if d.Tracer != nil {
		return d.Tracer
	}
	return otel.Tracer("order-payments/webhook")
}

// Handle verifies, deduplicates and applies one delivery. It never panics and
// runs to completion even if the caller's context is cancelled.
func (d *Dispatcher) Handle(ctx context.Context, body []byte, sigHeader, tsHeader, eventID string) (res Result) {
	ctx = context.WithoutCancel(ctx)
	ctx, span := d.tracer().Start(ctx, "webhook.handle")
	start := time.Now()
	log := logging.FromContext(ctx, d.Log)

	defer func() {
		if r := recover(); r != nil {
			log.Error("webhook_panic", zap.Any("panic", r), zap.String("event_id", eventID), zap.Stack("stack"))
			res = Result{Outcome: OutcomeError, EventID: eventID, Reason: "internal error", Err: fmt.Errorf("panic: %v", r)}
		}

		span.SetAttributes(
			attribute.String("webhook.outcome", string(res.Outcome)),
			attribute.String("webhook.event_id", res.EventID),
			attribute.String("order.token", res.OrderToken),
		)
		if res.Outcome == OutcomeError {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Reason)
		} else {
			span.SetStatus(codes.Ok, string(res.Outcome))
		}
		span.End()
		d.Metrics.WebhookHandled(string(res.Outcome), time.Since(start))

		fields := []zap.Field{
			zap.String("outcome", string(res.Outcome)),
			zap.String("event_id", res.EventID),
			zap.String("order_token", res.OrderToken),
			zap.Bool("unverified", res.Unverified),
			zap.Duration("took", time.Since(start)),
		}
		if res.Reason != "" {
			fields = append(fields, zap.String("reason", res.Reason))
		}
		switch res.Outcome {
		case OutcomeError:
			log.Error("webhook_processed", append(fields, zap.Error(res.Err))...)
		case OutcomeRejected, OutcomeAmountMismatch:
			log.Warn("webhook_processed", fields...)
		default:
			log.Info("webhook_processed", fields...)
		}
	}()

	res = d.handle(ctx, log, body, sigHeader, tsHeader, eventID)
	return res
}

func (d *Dispatcher) handle(ctx context.Context, log *zap.Logger, body []byte, sigHeader, tsHeader, eventID string) Result {
	res := Result{EventID: eventID}
	now := d.now()

	if d.Verifier == nil {
		res.Unverified = true
		log.Warn("webhook_signature_unverified", zap.String("event_id", eventID))
	} else if err := d.Verifier.Verify(body, sigHeader, tsHeader, now); err != nil {
		return rejected(res, err)
	}

	ev, err := ParseEvent(body)
	if err != nil {
		return rejected(res, err)
	}
	if res.EventID == "" {
		res.EventID = ev.ID
	}
	if res.EventID == "" {
		return rejected(res, errors.New("missing event id"))
	}
	key := ledger.Key(ledger.SourceWebhook, res.EventID)

	if seen, err := d.Ledger.Seen(ctx, key); err != nil {
		log.Warn("ledger_lookup_failed", zap.String("event_id", res.EventID), zap.Error(err))
	} else if seen {
		res.Outcome = OutcomeDuplicate
		return res
	}

	ps, target, ok := outcomeFor(ev.Data.Status)
	if !ok {
		res.Outcome = OutcomeIgnored
		res.Reason = fmt.Sprintf("unhandled payment status %q", ev.Data.Status)
		return res
	}

	token, err := d.Store.TokenForPayment(ctx, ev.Data.PaymentID)
	if err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			return rejected(res, fmt.Errorf("payment %s: %w", ev.Data.PaymentID, err))
		}
		return failed(res, err)
	}
	res.OrderToken = token

	var (
		since    int
		mismatch bool
	)
	updated, err := d.Store.Update(ctx, token, func(ctx context.Context, o *orders.Order) error {
		// the fast check above ran without the order lock
		if seen, err := d.Ledger.Seen(ctx, key); err != nil {
			return err
		} else if seen {
			return ledger.ErrDuplicate
		}
		since = len(o.History())

		ps, target := ps, target
		if pay := o.Payment(); pay.Amount != ev.Data.Amount {
			mismatch = true
			log.Error("webhook_amount_mismatch",
				zap.String("order_token", o.Token),
				zap.String("payment_id", pay.ID),
				zap.Int64("expected", pay.Amount),
				zap.Int64("received", ev.Data.Amount),
			)
			ps, target = orders.PaymentFailed, orders.StatusFailed
		}

		orderMoves, err := o.PlanPaymentOutcome(ps, target)
		if err != nil {
			return err
		}
		if orderMoves && target.Compensating() {
			d.Stock.Release(ctx, o)
		}
		if _, err := o.ApplyPaymentOutcome(ps, target, ev.Data.details(now)); err != nil {
			return err
		}
		return d.Ledger.Record(ctx, key, now)
	})
	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrDuplicate):
		res.Outcome = OutcomeDuplicate
		return res
	case errors.Is(err, orders.ErrInvalidStatusTransition),
		errors.Is(err, orders.ErrInvalidPaymentTransition),
		errors.Is(err, orders.ErrNotFound):
		return rejected(res, err)
	default:
		return failed(res, err)
	}

	for _, mv := range orders.Moves(updated, since) {
		d.Metrics.Transition(string(mv.From), string(mv.To))
	}
	orders.PublishChanges(ctx, d.Publisher, d.Producer, updated, since, log)

	res.OrderStatus = updated.Status()
	res.PaymentStatus = updated.Payment().Status
	if mismatch {
		res.Outcome = OutcomeAmountMismatch
		res.Err = ErrAmountMismatch
		res.Reason = fmt.Sprintf("expected %d, received %d", updated.Payment().Amount, ev.Data.Amount)
		return res
	}
	res.Outcome = OutcomeProcessed
	return res
}

func rejected(res Result, err error) Result {
	res.Outcome = OutcomeRejected
	res.Err = err
	res.Reason = err.Error()
	return res
}

func failed(res Result, err error) Result {
	res.Outcome = OutcomeError
	res.Err = err
	res.Reason = "internal error"
	return res
}
