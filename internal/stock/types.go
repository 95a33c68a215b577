package stock

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrInventoryUnavailable = errors.New("inventory service unavailable")
)

type Kind string

const (
	KindReserve Kind = "reserve"
	KindRelease Kind = "release"
)

type Delta struct {
	ProductID string `json:"product_id"`
	Delta     int    `json:"delta"`
}

// AdjustRequest is one batched stock change for a merchant. Reference and
// Kind together identify the change so the inventory side can drop replays.
type AdjustRequest struct {
	MerchantID string  `json:"-"`
	Reference  string  `json:"reference"`
	Kind       Kind    `json:"kind"`
	Items      []Delta `json:"items"`
}

type ItemResult struct {
	ProductID string `json:"product_id"`
	Previous  int    `json:"previous"`
	Current   int    `json:"current"`
}

type Shortage struct {
	ProductID string `json:"product_id"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

type InsufficientStockError struct {
	Shortages []Shortage
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("%s (requested %d, available %d)", s.ProductID, s.Requested, s.Available))
	}
	return "insufficient stock: " + strings.Join(parts, ", ")
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// Inventory applies a batch of deltas all-or-nothing.
type Inventory interface {
	Adjust(ctx context.Context, req AdjustRequest) ([]ItemResult, error)
}
