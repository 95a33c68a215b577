package stock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ariefcatur/go-order-payments/internal/orders"
	"github.com/ariefcatur/go-order-payments/internal/stock"
	"github.com/ariefcatur/go-order-payments/internal/stock/stocktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrder(t *testing.T, token string, items ...orders.LineItem) *orders.Order {
	t.Helper()
	o, err := orders.New(orders.NewOrderInput{
		Token:      token,
		BuyerID:    "buyer-1",
		MerchantID: "merchant-1",
		Items:      items,
		Now:        time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	require.NoError(t, err)
	return o
}

func TestReserveAndReleaseAreSymmetric(t *testing.T) {
	inv := stocktest.New(map[string]int{"p1": 10, "p2": 5})
	c := &stock.Coordinator{Inventory: inv}
	o := newOrder(t, "tok-1",
		orders.LineItem{ProductID: "p1", Quantity: 3, UnitPrice: 100},
		orders.LineItem{ProductID: "p2", Quantity: 2, UnitPrice: 50},
	)

	require.NoError(t, c.Reserve(context.Background(), o))
	assert.Equal(t, orders.StockReserved, o.StockState())
	assert.Equal(t, 7, inv.Level("p1"))
	assert.Equal(t, 3, inv.Level("p2"))

	assert.True(t, c.Release(context.Background(), o))
	assert.Equal(t, orders.StockReleased, o.StockState())
	assert.Equal(t, 10, inv.Level("p1"))
	assert.Equal(t, 5, inv.Level("p2"))

	rel := inv.Calls(stock.KindRelease)
	require.Len(t, rel, 1)
	assert.Equal(t, "tok-1", rel[0].Reference)
	assert.Equal(t, "merchant-1", rel[0].MerchantID)
	assert.Equal(t, []stock.Delta{{ProductID: "p1", Delta: 3}, {ProductID: "p2", Delta: 2}}, rel[0].Items)
}

func TestReserveIsAllOrNothing(t *testing.T) {
	inv := stocktest.New(map[string]int{"p1": 10, "p2": 1})
	c := &stock.Coordinator{Inventory: inv}
	o := newOrder(t, "tok-2",
		orders.LineItem{ProductID: "p1", Quantity: 3},
		orders.LineItem{ProductID: "p2", Quantity: 2},
	)

	err := c.Reserve(context.Background(), o)
	require.ErrorIs(t, err, stock.ErrInsufficientStock)

	var ise *stock.InsufficientStockError
	require.True(t, errors.As(err, &ise))
	assert.Equal(t, []stock.Shortage{{ProductID: "p2", Requested: 2, Available: 1}}, ise.Shortages)

	assert.Equal(t, orders.StockNone, o.StockState())
	assert.Equal(t, 10, inv.Level("p1"))
	assert.Equal(t, 1, inv.Level("p2"))
}

func TestReserveWithLostReplyIsUndone(t *testing.T) {
	inv := stocktest.New(map[string]int{"p1": 10})
	inv.LoseReserveReply = true
	c := &stock.Coordinator{Inventory: inv}
	o := newOrder(t, "tok-lost", orders.LineItem{ProductID: "p1", Quantity: 2})

	err := c.Reserve(context.Background(), o)
	require.ErrorIs(t, err, stock.ErrInventoryUnavailable)
	assert.Equal(t, orders.StockNone, o.StockState())
	assert.Equal(t, 10, inv.Level("p1"))

	rel := inv.Calls(stock.KindRelease)
	require.Len(t, rel, 1)
	assert.Equal(t, "tok-lost", rel[0].Reference)
	assert.Equal(t, []stock.Delta{{ProductID: "p1", Delta: 2}}, rel[0].Items)
}

func TestUndoOfUnappliedReserveChangesNothing(t *testing.T) {
	inv := stocktest.New(map[string]int{"p1": 10})
	inv.ReserveErr = stock.ErrInventoryUnavailable
	c := &stock.Coordinator{Inventory: inv}
	o := newOrder(t, "tok-never", orders.LineItem{ProductID: "p1", Quantity: 2})

	require.ErrorIs(t, c.Reserve(context.Background(), o), stock.ErrInventoryUnavailable)
	assert.Len(t, inv.Calls(stock.KindRelease), 1)
	assert.Equal(t, 10, inv.Level("p1"))

	// the reserve shows up late, after its release
	inv.ReserveErr = nil
	_, err := inv.Adjust(context.Background(), stock.AdjustRequest{
		MerchantID: "merchant-1", Reference: "tok-never", Kind: stock.KindReserve,
		Items: []stock.Delta{{ProductID: "p1", Delta: -2}},
	})
	require.NoError(t, err)
	assert.Equal(t, 10, inv.Level("p1"))
}

func TestInsufficientStockIsNotUndone(t *testing.T) {
	inv := stocktest.New(map[string]int{"p1": 1})
	c := &stock.Coordinator{Inventory: inv}
	o := newOrder(t, "tok-short", orders.LineItem{ProductID: "p1", Quantity: 2})

	require.ErrorIs(t, c.Reserve(context.Background(), o), stock.ErrInsufficientStock)
	assert.Empty(t, inv.Calls(stock.KindRelease))
}

func TestReserveUsesOneBatchedCall(t *testing.T) {
	inv := stocktest.New(map[string]int{"p1": 10, "p2": 10, "p3": 10})
	c := &stock.Coordinator{Inventory: inv}
	o := newOrder(t, "tok-3",
		orders.LineItem{ProductID: "p1", Quantity: 1},
		orders.LineItem{ProductID: "p2", Quantity: 1},
		orders.LineItem{ProductID: "p3", Quantity: 1},
	)

	require.NoError(t, c.Reserve(context.Background(), o))
	assert.Len(t, inv.Calls(""), 1)
}

func TestReleaseSkipsOrdersWithoutReservation(t *testing.T) {
	inv := stocktest.New(map[string]int{"p1": 10})
	c := &stock.Coordinator{Inventory: inv}
	o := newOrder(t, "tok-4", orders.LineItem{ProductID: "p1", Quantity: 1})

	assert.False(t, c.Release(context.Background(), o))
	assert.Empty(t, inv.Calls(""))
}

func TestReleaseHappensOnce(t *testing.T) {
	inv := stocktest.New(map[string]int{"p1": 10})
	c := &stock.Coordinator{Inventory: inv}
	o := newOrder(t, "tok-5", orders.LineItem{ProductID: "p1", Quantity: 4})

	require.NoError(t, c.Reserve(context.Background(), o))
	assert.True(t, c.Release(context.Background(), o))
	assert.False(t, c.Release(context.Background(), o))

	assert.Len(t, inv.Calls(stock.KindRelease), 1)
	assert.Equal(t, 10, inv.Level("p1"))
}

func TestReleaseFailureIsRecordedNotReturned(t *testing.T) {
	inv := stocktest.New(map[string]int{"p1": 10})
	c := &stock.Coordinator{Inventory: inv}
	o := newOrder(t, "tok-6", orders.LineItem{ProductID: "p1", Quantity: 4})
	require.NoError(t, c.Reserve(context.Background(), o))

	inv.ReleaseErr = stock.ErrInventoryUnavailable
	assert.False(t, c.Release(context.Background(), o))
	assert.Equal(t, orders.StockReleaseFailed, o.StockState())
	assert.Equal(t, 6, inv.Level("p1"))

	// no second attempt once the release has been tried
	assert.False(t, c.Release(context.Background(), o))
	assert.Len(t, inv.Calls(stock.KindRelease), 1)
}

func TestReleaseSurvivesCancelledCaller(t *testing.T) {
	inv := stocktest.New(map[string]int{"p1": 10})
	c := &stock.Coordinator{Inventory: inv, ReleaseTimeout: time.Second}
	o := newOrder(t, "tok-7", orders.LineItem{ProductID: "p1", Quantity: 2})
	require.NoError(t, c.Reserve(context.Background(), o))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, c.Release(ctx, o))
	assert.Equal(t, 10, inv.Level("p1"))
}

func TestCompensateAndTransition(t *testing.T) {
	t.Run("cancellation releases then moves", func(t *testing.T) {
		inv := stocktest.New(map[string]int{"p1": 10})
		c := &stock.Coordinator{Inventory: inv}
		o := newOrder(t, "tok-8", orders.LineItem{ProductID: "p1", Quantity: 2})
		require.NoError(t, c.Reserve(context.Background(), o))

		require.NoError(t, c.CompensateAndTransition(context.Background(), o, orders.StatusCancelledUser, time.Now()))
		assert.Equal(t, orders.StatusCancelledUser, o.Status())
		assert.Equal(t, orders.StockReleased, o.StockState())
		assert.Equal(t, 10, inv.Level("p1"))
	})

	t.Run("rejected move releases nothing", func(t *testing.T) {
		inv := stocktest.New(map[string]int{"p1": 10})
		c := &stock.Coordinator{Inventory: inv}
		o := newOrder(t, "tok-9", orders.LineItem{ProductID: "p1", Quantity: 2})
		require.NoError(t, c.Reserve(context.Background(), o))
		require.NoError(t, o.Transition(orders.StatusFailed, time.Now()))

		err := c.CompensateAndTransition(context.Background(), o, orders.StatusCancelledAdmin, time.Now())
		require.ErrorIs(t, err, orders.ErrInvalidStatusTransition)
		assert.Empty(t, inv.Calls(stock.KindRelease))
		assert.Equal(t, 8, inv.Level("p1"))
	})

	t.Run("forward move does not touch stock", func(t *testing.T) {
		inv := stocktest.New(map[string]int{"p1": 10})
		c := &stock.Coordinator{Inventory: inv}
		o := newOrder(t, "tok-10", orders.LineItem{ProductID: "p1", Quantity: 2})
		require.NoError(t, c.Reserve(context.Background(), o))

		require.NoError(t, c.CompensateAndTransition(context.Background(), o, orders.StatusPaid, time.Now()))
		assert.Equal(t, orders.StockReserved, o.StockState())
	})
}
