package orders

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newOrder(t *testing.T, items ...LineItem) *Order {
	t.Helper()
	if len(items) == 0 {
		items = []LineItem{{ProductID: "P", ProductName: "Pencil", Quantity: 2, UnitPrice: 100}}
	}
	o, err := New(NewOrderInput{
		Token:      "tok-1",
		BuyerID:    "buyer-1",
		MerchantID: "merchant-1",
		Recipient:  "Ana",
		Items:      items,
		Now:        t0,
	})
	require.NoError(t, err)
	return o
}

func TestNewComputesTotal(t *testing.T) {
	o := newOrder(t,
		LineItem{ProductID: "P", Quantity: 2, UnitPrice: 100},
		LineItem{ProductID: "Q", Quantity: 3, UnitPrice: 250, Kind: ItemGift},
		LineItem{ProductID: "R", Quantity: 1, UnitPrice: 0},
	)

	var sum int64
	for _, it := range o.Items() {
		sum += it.UnitPrice * int64(it.Quantity)
	}
	assert.Equal(t, int64(950), o.Total())
	assert.Equal(t, sum, o.Total())
	assert.Equal(t, o.Total(), o.Payment().Amount)
	assert.Equal(t, StatusPending, o.Status())
	assert.Equal(t, PaymentReady, o.Payment().Status)
	assert.Equal(t, o.Token, o.Payment().OrderToken)
	assert.Equal(t, []StatusChange{{Status: StatusPending, At: t0}}, o.History())
	assert.Equal(t, ItemPurchase, o.Items()[0].Kind, "kind defaults to purchase")
	assert.Equal(t, []string{"P", "Q", "R"}, []string{o.Items()[0].ProductID, o.Items()[1].ProductID, o.Items()[2].ProductID})
}

func TestNewRejectsInvalidInput(t *testing.T) {
	valid := NewOrderInput{
		Token: "t", BuyerID: "b", MerchantID: "m",
		Items: []LineItem{{ProductID: "P", Quantity: 1, UnitPrice: 1}},
	}
	cases := map[string]func(in *NewOrderInput){
		"no token":       func(in *NewOrderInput) { in.Token = " " },
		"no buyer":       func(in *NewOrderInput) { in.BuyerID = "" },
		"no merchant":    func(in *NewOrderInput) { in.MerchantID = "" },
		"no items":       func(in *NewOrderInput) { in.Items = nil },
		"zero quantity":  func(in *NewOrderInput) { in.Items = []LineItem{{ProductID: "P", Quantity: 0}} },
		"negative price": func(in *NewOrderInput) { in.Items = []LineItem{{ProductID: "P", Quantity: 1, UnitPrice: -1}} },
		"no product":     func(in *NewOrderInput) { in.Items = []LineItem{{Quantity: 1}} },
		"unknown kind":   func(in *NewOrderInput) { in.Items = []LineItem{{ProductID: "P", Quantity: 1, Kind: "LOAN"}} },
		"subtotal overflows": func(in *NewOrderInput) {
			in.Items = []LineItem{{ProductID: "P", Quantity: 2, UnitPrice: math.MaxInt64}}
		},
		"total overflows": func(in *NewOrderInput) {
			in.Items = []LineItem{
				{ProductID: "P", Quantity: 1, UnitPrice: math.MaxInt64},
				{ProductID: "Q", Quantity: 1, UnitPrice: 1},
			}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := valid
			mutate(&in)
			_, err := New(in)
			assert.ErrorIs(t, err, ErrInvalidOrder)
		})
	}
}

func TestTransitionTable(t *testing.T) {
	allowed := map[Status][]Status{
		StatusPending:   {StatusPaid, StatusCancelledUser, StatusCancelledAdmin, StatusFailed},
		StatusPaid:      {StatusPreparing, StatusCancelledUser, StatusCancelledAdmin},
		StatusPreparing: {StatusPrepared, StatusCancelledUser, StatusCancelledAdmin},
		StatusPrepared:  {StatusReceived, StatusCancelledUser, StatusCancelledAdmin},
	}
	isAllowed := func(from, to Status) bool {
		for _, s := range allowed[from] {
			if s == to {
				return true
			}
		}
		return false
	}

	for _, from := range Statuses() {
		for _, to := range Statuses() {
			o := newOrder(t)
			o.status = from
			histBefore := len(o.history)

			err := o.Transition(to, t0.Add(time.Minute))
			if isAllowed(from, to) {
				require.NoError(t, err, "%s -> %s", from, to)
				assert.Equal(t, to, o.Status())
				assert.Len(t, o.History(), histBefore+1)
				continue
			}

			var ist *InvalidStatusTransitionError
			require.True(t, errors.As(err, &ist), "%s -> %s must fail", from, to)
			assert.Equal(t, from, ist.From)
			assert.Equal(t, to, ist.To)
			assert.ErrorIs(t, err, ErrInvalidStatusTransition)
			assert.Equal(t, from, o.Status(), "status unchanged")
			assert.Len(t, o.History(), histBefore, "history unchanged")
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range Statuses() {
		switch s {
		case StatusReceived, StatusCancelledUser, StatusCancelledAdmin, StatusFailed:
			assert.True(t, s.Terminal(), s)
		default:
			assert.False(t, s.Terminal(), s)
		}
	}
	assert.False(t, Status("SHIPPED").Valid())
}

func TestHappyPathHistory(t *testing.T) {
	o := newOrder(t)
	moved, err := o.ApplyPaymentOutcome(PaymentPaid, StatusPaid, PaymentDetails{TransactionRef: "tx-9", At: t0.Add(time.Minute)})
	require.NoError(t, err)
	assert.True(t, moved)

	for i, s := range []Status{StatusPreparing, StatusPrepared, StatusReceived} {
		require.NoError(t, o.Transition(s, t0.Add(time.Duration(i+2)*time.Minute)))
	}

	var got []Status
	for _, h := range o.History() {
		got = append(got, h.Status)
	}
	assert.Equal(t, []Status{StatusPending, StatusPaid, StatusPreparing, StatusPrepared, StatusReceived}, got)
	require.NotNil(t, o.PaidAt())
	assert.Equal(t, t0.Add(time.Minute), *o.PaidAt())
	assert.Equal(t, "tx-9", o.Payment().TransactionRef)
	assert.Equal(t, int64(200), o.Total(), "total never changes")
}

func TestApplyPaymentOutcome(t *testing.T) {
	t.Run("failure on a terminal order only moves the payment", func(t *testing.T) {
		o := newOrder(t)
		require.NoError(t, o.Transition(StatusCancelledUser, t0))

		moved, err := o.ApplyPaymentOutcome(PaymentFailed, StatusFailed, PaymentDetails{At: t0})
		require.NoError(t, err)
		assert.False(t, moved)
		assert.Equal(t, StatusCancelledUser, o.Status())
		assert.Equal(t, PaymentFailed, o.Payment().Status)
	})

	t.Run("late payment on a failed order is rejected", func(t *testing.T) {
		o := newOrder(t)
		require.NoError(t, o.Transition(StatusFailed, t0))

		_, err := o.ApplyPaymentOutcome(PaymentPaid, StatusPaid, PaymentDetails{At: t0})
		assert.ErrorIs(t, err, ErrInvalidStatusTransition)
		assert.Equal(t, PaymentReady, o.Payment().Status, "payment untouched")
		assert.Nil(t, o.PaidAt())
	})

	t.Run("payment cannot leave a terminal status", func(t *testing.T) {
		o := newOrder(t)
		_, err := o.ApplyPaymentOutcome(PaymentFailed, StatusFailed, PaymentDetails{At: t0})
		require.NoError(t, err)

		_, err = o.ApplyPaymentOutcome(PaymentPaid, StatusPaid, PaymentDetails{At: t0})
		assert.ErrorIs(t, err, ErrInvalidPaymentTransition)
		assert.Equal(t, StatusFailed, o.Status())
	})
}

func TestCloneIsDeep(t *testing.T) {
	o := newOrder(t)
	c := o.Clone()
	require.NoError(t, c.Transition(StatusPaid, t0))
	c.MarkStockReserved()

	assert.Equal(t, StatusPending, o.Status())
	assert.Len(t, o.History(), 1)
	assert.Equal(t, StockNone, o.StockState())
}

func TestStockStateMarks(t *testing.T) {
	o := newOrder(t)
	o.MarkStockReserved()
	assert.Equal(t, StockReserved, o.StockState())
	o.MarkStockReleased(false)
	assert.Equal(t, StockReleaseFailed, o.StockState())
	o.MarkStockReleased(true)
	assert.Equal(t, StockReleased, o.StockState())
}
