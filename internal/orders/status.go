package orders

type Status string

const (
	StatusPending        Status = "PENDING"
	StatusPaid           Status = "PAID"
	StatusPreparing      Status = "PREPARING"
	StatusPrepared       Status = "PREPARED"
	StatusReceived       Status = "RECEIVED"
	StatusCancelledUser  Status = "CANCELLED_USER"
	StatusCancelledAdmin Status = "CANCELLED_ADMIN"
	StatusFailed         Status = "FAILED"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:        {StatusPaid: true, StatusCancelledUser: true, StatusCancelledAdmin: true, StatusFailed: true},
	StatusPaid:           {StatusPreparing: true, StatusCancelledUser: true, StatusCancelledAdmin: true},
	StatusPreparing:      {StatusPrepared: true, StatusCancelledUser: true, StatusCancelledAdmin: true},
	StatusPrepared:       {StatusReceived: true, StatusCancelledUser: true, StatusCancelledAdmin: true},
	StatusReceived:       {},
	StatusCancelledUser:  {},
	StatusCancelledAdmin: {},
	StatusFailed:         {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return len(validNext[s]) == 0
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// Compensating reports whether entering s gives the order's reserved stock back.
func (s Status) Compensating() bool {
	switch s {
	case StatusFailed, StatusCancelledUser, StatusCancelledAdmin:
		return true
	}
	return false
}

// Statuses lists every order status in lifecycle order.
func Statuses() []Status {
	return []Status{
		StatusPending, StatusPaid, StatusPreparing, StatusPrepared, StatusReceived,
		StatusCancelledUser, StatusCancelledAdmin, StatusFailed,
	}
}

type PaymentStatus string

const (
	PaymentReady     PaymentStatus = "READY"
	PaymentPaid      PaymentStatus = "PAID"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentCancelled PaymentStatus = "CANCELLED"
)

var validPaymentNext = map[PaymentStatus]map[PaymentStatus]bool{
	PaymentReady:     {PaymentPaid: true, PaymentFailed: true, PaymentCancelled: true},
	PaymentPaid:      {PaymentCancelled: true},
	PaymentFailed:    {},
	PaymentCancelled: {},
}

func CanTransitionPayment(from, to PaymentStatus) bool {
	return validPaymentNext[from][to]
}

// StockState tracks where the order's inventory reservation stands.
type StockState string

const (
	StockNone          StockState = "NONE"
	StockReserved      StockState = "RESERVED"
	StockReleased      StockState = "RELEASED"
	StockReleaseFailed StockState = "RELEASE_FAILED"
)

type ItemKind string

const (
	ItemPurchase ItemKind = "PURCHASE"
	ItemRefund   ItemKind = "REFUND"
	ItemExchange ItemKind = "EXCHANGE"
	ItemGift     ItemKind = "GIFT"
)

func (k ItemKind) Valid() bool {
	switch k {
	case ItemPurchase, ItemRefund, ItemExchange, ItemGift:
		return true
	}
	return false
}
