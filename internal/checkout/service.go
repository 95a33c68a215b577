// Package checkout creates orders and applies status changes requested by
// buyers, admins and the status-command topic.
package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	kafkax "github.com/ariefcatur/go-order-payments/internal/kafka"
	"github.com/ariefcatur/go-order-payments/internal/ledger"
	"github.com/ariefcatur/go-order-payments/internal/logging"
	"github.com/ariefcatur/go-order-payments/internal/metrics"
	"github.com/ariefcatur/go-order-payments/internal/orders"
	"github.com/ariefcatur/go-order-payments/internal/stock"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrPaymentDriven is returned for statuses only payment events may set.
var ErrPaymentDriven = errors.New("status is set by payment events only")

type Service struct {
	Store     orders.Store
	Stock     *stock.Coordinator
	Ledger    ledger.Ledger
	Publisher orders.Publisher
	Producer  string
	Log       *zap.Logger
	Metrics   *metrics.Metrics
	Tracer    trace.Tracer
	Now       func() time.Time
	NewToken  func() string
}

type CreateInput struct {
	BuyerID       string            `json:"buyer_id"`
	MerchantID    string            `json:"merchant_id"`
	Recipient     string            `json:"recipient"`
	PaymentMethod string            `json:"payment_method"`
	Items         []orders.LineItem `json:"items"`
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) tracer() trace.Tracer {
	if s.Tracer != nil {
		return s.Tracer
	}
	return otel.Tracer("order-payments/checkout")
}

// Create reserves stock for the order and stores it. Nothing is stored when
// the reservation fails; a reservation whose order cannot be stored is released.
func (s *Service) Create(ctx context.Context, in CreateInput) (_ *orders.Order, err error) {
	ctx, span := s.tracer().Start(ctx, "checkout.create", trace.WithAttributes(
		attribute.String("merchant.id", in.MerchantID),
		attribute.Int("order.items", len(in.Items)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "create failed")
		}
		span.End()
	}()

	token := uuid.NewString()
	if s.NewToken != nil {
		token = s.NewToken()
	}
	o, err := orders.New(orders.NewOrderInput{
		Token:         token,
		BuyerID:       in.BuyerID,
		MerchantID:    in.MerchantID,
		Recipient:     in.Recipient,
		PaymentMethod: in.PaymentMethod,
		Items:         in.Items,
		Now:           s.now(),
	})
	if err != nil {
		return nil, err
	}

	if err := s.Stock.Reserve(ctx, o); err != nil {
		return nil, err
	}
	if err := s.Store.Create(ctx, o); err != nil {
		s.Stock.Release(ctx, o)
		return nil, fmt.Errorf("create order: %w", err)
	}

	logging.FromContext(ctx, s.Log).Info("order_created",
		zap.String("order_token", o.Token),
		zap.String("merchant_id", o.MerchantID),
		zap.Int64("total", o.Total()),
	)
	return o, nil
}

func (s *Service) Get(ctx context.Context, token string) (*orders.Order, error) {
	return s.Store.Get(ctx, token)
}

// ChangeStatus applies a buyer or admin request. Cancellation releases the
// reserved stock before the status commits.
func (s *Service) ChangeStatus(ctx context.Context, token string, to orders.Status, actor string) (*orders.Order, error) {
	return s.transition(ctx, token, to, actor, "")
}

// Purge deletes an order with its items, payment and history. An order that
// has not reached a terminal status gives its reserved stock back first;
// received goods stay with the buyer.
func (s *Service) Purge(ctx context.Context, token string) error {
	_, err := s.Store.Update(ctx, token, func(ctx context.Context, o *orders.Order) error {
		if !o.Status().Terminal() {
			s.Stock.Release(ctx, o)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := s.Store.Purge(ctx, token); err != nil {
		return err
	}
	logging.FromContext(ctx, s.Log).Info("order_purged", zap.String("order_token", token))
	return nil
}

// transition moves an order under its lock. A non-empty eventID is a ledger
// key recorded in the same update so a redelivered command is a no-op.
func (s *Service) transition(ctx context.Context, token string, to orders.Status, actor, eventID string) (*orders.Order, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", orders.ErrInvalidOrder, to)
	}
	if to == orders.StatusPaid || to == orders.StatusFailed {
		return nil, fmt.Errorf("%w: %s", ErrPaymentDriven, to)
	}

	now := s.now()
	var since int
	updated, err := s.Store.Update(ctx, token, func(ctx context.Context, o *orders.Order) error {
		if eventID != "" {
			if seen, err := s.Ledger.Seen(ctx, eventID); err != nil {
				return err
			} else if seen {
				return ledger.ErrDuplicate
			}
		}
		since = len(o.History())
		if err := s.Stock.CompensateAndTransition(ctx, o, to, now); err != nil {
			return err
		}
		if eventID != "" {
			return s.Ledger.Record(ctx, eventID, now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, mv := range orders.Moves(updated, since) {
		s.Metrics.Transition(string(mv.From), string(mv.To))
	}
	log := logging.FromContext(ctx, s.Log)
	orders.PublishChanges(ctx, s.Publisher, s.Producer, updated, since, log)
	log.Info("order_status_changed",
		zap.String("order_token", token),
		zap.String("status", string(to)),
		zap.String("actor", actor),
		zap.String("stock_state", string(updated.StockState())),
	)
	return updated, nil
}

// HandleStatusCommand consumes OrderStatusChangeRequested envelopes. It
// returns an error only for failures worth redelivering; bad commands are
// logged and acknowledged.
func (s *Service) HandleStatusCommand(ctx context.Context, m kafkago.Message) error {
	log := logging.FromContext(ctx, s.Log).With(
		zap.String("topic", m.Topic),
		zap.Int("partition", m.Partition),
		zap.Int64("offset", m.Offset),
	)

	env, err := kafkax.DecodeEnvelope(m)
	if err != nil {
		log.Warn("status_command_undecodable", zap.Error(err))
		return nil
	}
	if env.EventType != orders.EventOrderStatusChangeRequested {
		return nil
	}
	if env.EventID == "" {
		log.Warn("status_command_missing_event_id")
		return nil
	}
	log = log.With(zap.String("event_id", env.EventID))

	key := ledger.Key(ledger.SourceCommand, env.EventID)
	if seen, err := s.Ledger.Seen(ctx, key); err == nil && seen {
		log.Debug("status_command_duplicate")
		return nil
	}

	p, err := kafkax.UnwrapPayload[orders.StatusChangeRequestedPayload](env.Payload)
	if err != nil {
		log.Warn("status_command_bad_payload", zap.Error(err))
		return nil
	}
	if p.OrderToken == "" {
		p.OrderToken = env.CorrelationID
	}

	_, err = s.transition(logging.ContextWithLogger(ctx, log), p.OrderToken, p.Status, p.Actor, key)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ledger.ErrDuplicate):
		log.Debug("status_command_duplicate")
		return nil
	case errors.Is(err, orders.ErrInvalidStatusTransition),
		errors.Is(err, orders.ErrInvalidOrder),
		errors.Is(err, orders.ErrNotFound),
		errors.Is(err, ErrPaymentDriven):
		log.Warn("status_command_rejected",
			zap.String("order_token", p.OrderToken),
			zap.String("status", string(p.Status)),
			zap.Error(err),
		)
		return nil
	default:
		return fmt.Errorf("apply status command %s: %w", env.EventID, err)
	}
}

// StatusCommand builds the envelope HandleStatusCommand consumes.
func StatusCommand(producer, token string, to orders.Status, actor string, at time.Time) (orders.Envelope, error) {
	payload, err := json.Marshal(orders.StatusChangeRequestedPayload{OrderToken: token, Status: to, Actor: actor})
	if err != nil {
		return orders.Envelope{}, err
	}
	return orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventOrderStatusChangeRequested,
		EventVersion:  1,
		OccurredAt:    at,
		Producer:      producer,
		CorrelationID: token,
		Payload:       payload,
	}, nil
}
