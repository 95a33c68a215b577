package webhook

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/go-order-payments/internal/orders"
)

// Event is the gateway's payment notification body.
type Event struct {
	ID   string    `json:"id"`
	Type string    `json:"type"`
	Data EventData `json:"data"`
}

type EventData struct {
	PaymentID     string     `json:"payment_id"`
	Status        string     `json:"status"`
	Amount        int64      `json:"amount"`
	Method        string     `json:"method"`
	TransactionID string     `json:"transaction_id"`
	ReceiptURL    string     `json:"receipt_url"`
	ApprovedAt    *time.Time `json:"approved_at,omitempty"`
}

func ParseEvent(body []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return ev, fmt.Errorf("decode webhook body: %w", err)
	}
	if ev.Data.PaymentID == "" {
		return ev, fmt.Errorf("decode webhook body: missing payment_id")
	}
	return ev, nil
}

// outcomeFor maps a gateway payment status to the payment and order targets.
func outcomeFor(status string) (orders.PaymentStatus, orders.Status, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "paid", "done", "approved":
		return orders.PaymentPaid, orders.StatusPaid, true
	case "failed", "aborted":
		return orders.PaymentFailed, orders.StatusFailed, true
	case "cancelled", "canceled":
		return orders.PaymentCancelled, orders.StatusCancelledUser, true
	}
	return "", "", false
}

// details stamps the outcome with the processing time; approved_at is the
// gateway's clock and only logged.
func (d EventData) details(now time.Time) orders.PaymentDetails {
	return orders.PaymentDetails{
		Method:         d.Method,
		TransactionRef: d.TransactionID,
		ReceiptRef:     d.ReceiptURL,
		At:             now,
	}
}
