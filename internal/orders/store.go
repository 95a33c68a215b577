package orders

import (
	"context"
	"errors"
	"time"
)

var ErrAlreadyExists = errors.New("order already exists")

// UpdateFunc mutates an order inside Store.Update. ctx carries the store
// transaction; returning an error discards every change made by the func.
type UpdateFunc func(ctx context.Context, o *Order) error

type Store interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, token string) (*Order, error)
	// TokenForPayment resolves the order owning a payment.
	TokenForPayment(ctx context.Context, paymentID string) (string, error)
	// Update loads the order, runs fn and persists the result atomically.
	// Calls for the same token are serialised.
	Update(ctx context.Context, token string, fn UpdateFunc) (*Order, error)
	// ListStale returns tokens of orders in status created before the cutoff, oldest first.
	ListStale(ctx context.Context, status Status, createdBefore time.Time, limit int) ([]string, error)
	// Purge deletes the order with its items, payment and history.
	Purge(ctx context.Context, token string) error
}
