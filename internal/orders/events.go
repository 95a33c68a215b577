package orders

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	EventOrderStatusChanged         = "OrderStatusChanged"
	EventOrderStatusChangeRequested = "OrderStatusChangeRequested"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order token
	Payload       json.RawMessage `json:"payload"`
}

type StatusChangedPayload struct {
	OrderToken    string        `json:"order_token"`
	BuyerID       string        `json:"buyer_id"`
	MerchantID    string        `json:"merchant_id"`
	From          Status        `json:"from"`
	To            Status        `json:"to"`
	At            time.Time     `json:"at"`
	TotalAmount   int64         `json:"total_amount"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	StockState    StockState    `json:"stock_state"`
}

type StatusChangeRequestedPayload struct {
	OrderToken string `json:"order_token"`
	Status     Status `json:"status"`
	Actor      string `json:"actor,omitempty"`
}

// Publisher receives lifecycle envelopes after commit, best effort. Durable
// delivery goes through the Outbox.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// Publishers fans an envelope out to every publisher.
type Publishers []Publisher

func (ps Publishers) Publish(ctx context.Context, env Envelope) error {
	var errs []error
	for _, p := range ps {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, env); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StatusChangedEvents builds one envelope per history entry from index since.
// Event ids derive from (token, history index) so a republished change keeps its id.
func StatusChangedEvents(producer string, o *Order, since int) []Envelope {
	hist := o.history
	if since < 1 {
		since = 1
	}
	if since >= len(hist) {
		return nil
	}
	out := make([]Envelope, 0, len(hist)-since)
	for i := since; i < len(hist); i++ {
		payload, _ := json.Marshal(StatusChangedPayload{
			OrderToken:    o.Token,
			BuyerID:       o.BuyerID,
			MerchantID:    o.MerchantID,
			From:          hist[i-1].Status,
			To:            hist[i].Status,
			At:            hist[i].At,
			TotalAmount:   o.total,
			PaymentStatus: o.payment.Status,
			StockState:    o.stock,
		})
		out = append(out, Envelope{
			EventID:       uuid.NewSHA1(uuid.NameSpaceOID, []byte(o.Token+"#"+strconv.Itoa(i))).String(),
			EventType:     EventOrderStatusChanged,
			EventVersion:  1,
			OccurredAt:    hist[i].At,
			Producer:      producer,
			CorrelationID: o.Token,
			Payload:       payload,
		})
	}
	return out
}

// PublishChanges publishes the transitions recorded since history index since.
// Publishing happens after commit; failures are logged, never returned.
func PublishChanges(ctx context.Context, pub Publisher, producer string, o *Order, since int, log *zap.Logger) {
	if pub == nil || o == nil {
		return
	}
	for _, env := range StatusChangedEvents(producer, o, since) {
		if err := pub.Publish(ctx, env); err != nil && log != nil {
			log.Warn("order_event_publish_failed",
				zap.String("order_token", o.Token),
				zap.String("event_id", env.EventID),
				zap.Error(err),
			)
		}
	}
}

// Move is one committed status change.
type Move struct {
	From Status
	To   Status
}

// Moves lists the status changes recorded since history index since.
func Moves(o *Order, since int) []Move {
	if since < 1 {
		since = 1
	}
	var out []Move
	for i := since; i < len(o.history); i++ {
		out = append(out, Move{From: o.history[i-1].Status, To: o.history[i].Status})
	}
	return out
}
