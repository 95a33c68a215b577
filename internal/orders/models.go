package orders

import (
	"math"
	"strings"
	"time"
)

type LineItem struct {
	ProductID   string   `json:"product_id"`
	ProductName string   `json:"product_name"`
	Quantity    int      `json:"quantity"`
	UnitPrice   int64    `json:"unit_price"`
	Kind        ItemKind `json:"kind"`
}

func (it LineItem) Subtotal() int64 {
	return it.UnitPrice * int64(it.Quantity)
}

type StatusChange struct {
	Status Status    `json:"status"`
	At     time.Time `json:"at"`
}

// Payment belongs to exactly one order and refers to it by token only.
type Payment struct {
	ID             string        `json:"id"`
	OrderToken     string        `json:"order_token"`
	Method         string        `json:"method"`
	Amount         int64         `json:"amount"`
	Status         PaymentStatus `json:"status"`
	TransactionRef string        `json:"transaction_ref,omitempty"`
	ReceiptRef     string        `json:"receipt_ref,omitempty"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
}

// PaymentDetails carries what the gateway reports alongside a payment outcome.
type PaymentDetails struct {
	Method         string
	TransactionRef string
	ReceiptRef     string
	At             time.Time
}

// Order is the consistency boundary: it owns its line items, its payment and
// its status history. Status, history and payment only change through the
// transition methods below.
type Order struct {
	Token      string
	BuyerID    string
	MerchantID string
	Recipient  string
	CreatedAt  time.Time
	UpdatedAt  time.Time

	total   int64
	status  Status
	paidAt  *time.Time
	items   []LineItem
	history []StatusChange
	payment Payment
	stock   StockState
}

type NewOrderInput struct {
	Token         string
	BuyerID       string
	MerchantID    string
	Recipient     string
	PaymentMethod string
	Items         []LineItem
	Now           time.Time
}

// New builds a PENDING order whose total is the sum of its line items, with a
// READY payment for the same amount.
func New(in NewOrderInput) (*Order, error) {
	switch {
	case strings.TrimSpace(in.Token) == "":
		return nil, invalidf("token is required")
	case strings.TrimSpace(in.BuyerID) == "":
		return nil, invalidf("buyer id is required")
	case strings.TrimSpace(in.MerchantID) == "":
		return nil, invalidf("merchant id is required")
	case len(in.Items) == 0:
		return nil, invalidf("at least one line item is required")
	}

	items := make([]LineItem, 0, len(in.Items))
	var total int64
	for i, it := range in.Items {
		if strings.TrimSpace(it.ProductID) == "" {
			return nil, invalidf("item %d: product id is required", i)
		}
		if it.Quantity <= 0 {
			return nil, invalidf("item %d: quantity must be greater than zero", i)
		}
		if it.UnitPrice < 0 {
			return nil, invalidf("item %d: unit price must not be negative", i)
		}
		if it.Kind == "" {
			it.Kind = ItemPurchase
		}
		if !it.Kind.Valid() {
			return nil, invalidf("item %d: unknown kind %q", i, it.Kind)
		}
		if it.UnitPrice > math.MaxInt64/int64(it.Quantity) {
			return nil, invalidf("item %d: amount overflows", i)
		}
		sub := it.Subtotal()
		if total > math.MaxInt64-sub {
			return nil, invalidf("item %d: order total overflows", i)
		}
		total += sub
		items = append(items, it)
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	method := in.PaymentMethod
	if method == "" {
		method = "CARD"
	}

	return &Order{
		Token:      in.Token,
		BuyerID:    in.BuyerID,
		MerchantID: in.MerchantID,
		Recipient:  in.Recipient,
		CreatedAt:  now,
		UpdatedAt:  now,
		total:      total,
		status:     StatusPending,
		items:      items,
		history:    []StatusChange{{Status: StatusPending, At: now}},
		payment: Payment{
			ID:         in.Token,
			OrderToken: in.Token,
			Method:     method,
			Amount:     total,
			Status:     PaymentReady,
		},
		stock: StockNone,
	}, nil
}

func (o *Order) Total() int64 { return o.total }
func (o *Order) Status() Status { return o.status }
func (o *Order) StockState() StockState { return o.stock }
func (o *Order) Payment() Payment { return o.payment }
func (o *Order) PaidAt() *time.Time { return copyTime(o.paidAt) }
func (o *Order) CanTransition(to Status) bool { return CanTransition(o.status, to) }

func (o *Order) Items() []LineItem {
	return append([]LineItem(nil), o.items...)
}

func (o *Order) History() []StatusChange {
	return append([]StatusChange(nil), o.history...)
}

// Transition moves the order to `to` and appends one history entry. Disallowed
// moves return *InvalidStatusTransitionError and leave the order untouched.
func (o *Order) Transition(to Status, at time.Time) error {
	if !CanTransition(o.status, to) {
		return &InvalidStatusTransitionError{From: o.status, To: to}
	}
	o.status = to
	o.history = append(o.history, StatusChange{Status: to, At: at})
	o.UpdatedAt = at
	return nil
}

// PlanPaymentOutcome checks whether the payment can move to ps while the order
// moves to target, without changing anything. orderMoves is false when the
// order already sits in a terminal status and the outcome is a failure or a
// cancellation: the payment still records it, the order stays where it is.
func (o *Order) PlanPaymentOutcome(ps PaymentStatus, target Status) (orderMoves bool, err error) {
	if !CanTransitionPayment(o.payment.Status, ps) {
		return false, &InvalidPaymentTransitionError{From: o.payment.Status, To: ps}
	}
	if CanTransition(o.status, target) {
		return true, nil
	}
	if ps != PaymentPaid && o.status.Terminal() {
		return false, nil
	}
	return false, &InvalidStatusTransitionError{From: o.status, To: target}
}

// ApplyPaymentOutcome moves payment and order together; either both change or neither.
func (o *Order) ApplyPaymentOutcome(ps PaymentStatus, target Status, d PaymentDetails) (orderMoved bool, err error) {
	orderMoves, err := o.PlanPaymentOutcome(ps, target)
	if err != nil {
		return false, err
	}
	at := d.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	o.payment.Status = ps
	if d.Method != "" {
		o.payment.Method = d.Method
	}
	if d.TransactionRef != "" {
		o.payment.TransactionRef = d.TransactionRef
	}
	if d.ReceiptRef != "" {
		o.payment.ReceiptRef = d.ReceiptRef
	}
	o.payment.CompletedAt = &at
	if ps == PaymentPaid {
		o.paidAt = copyTime(&at)
	}
	o.UpdatedAt = at

	if orderMoves {
		// checked by PlanPaymentOutcome
		_ = o.Transition(target, at)
	}
	return orderMoves, nil
}

func (o *Order) MarkStockReserved() {
	o.stock = StockReserved
}

// MarkStockReleased records the result of the compensating release.
func (o *Order) MarkStockReleased(ok bool) {
	if ok {
		o.stock = StockReleased
		return
	}
	o.stock = StockReleaseFailed
}

// Clone returns a deep copy.
func (o *Order) Clone() *Order {
	c := *o
	c.items = o.Items()
	c.history = o.History()
	c.paidAt = copyTime(o.paidAt)
	c.payment.CompletedAt = copyTime(o.payment.CompletedAt)
	return &c
}

// View is the serialisable snapshot of an order.
type View struct {
	Token       string         `json:"order_token"`
	BuyerID     string         `json:"buyer_id"`
	MerchantID  string         `json:"merchant_id"`
	Recipient   string         `json:"recipient"`
	TotalAmount int64          `json:"total_amount"`
	Status      Status         `json:"status"`
	PaidAt      *time.Time     `json:"paid_at,omitempty"`
	Stock       StockState     `json:"stock_state"`
	Items       []LineItem     `json:"items"`
	History     []StatusChange `json:"history"`
	Payment     Payment        `json:"payment"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func (o *Order) View() View {
	p := o.payment
	p.CompletedAt = copyTime(p.CompletedAt)
	return View{
		Token:       o.Token,
		BuyerID:     o.BuyerID,
		MerchantID:  o.MerchantID,
		Recipient:   o.Recipient,
		TotalAmount: o.total,
		Status:      o.status,
		PaidAt:      copyTime(o.paidAt),
		Stock:       o.stock,
		Items:       o.Items(),
		History:     o.History(),
		Payment:     p,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
