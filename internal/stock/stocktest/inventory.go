// Package stocktest provides an in-memory inventory for tests.
package stocktest

import (
	"context"
	"sync"

	"github.com/ariefcatur/go-order-payments/internal/stock"
)

// Inventory is an in-memory stock.Inventory. Levels are keyed by product id;
// replays of the same (reference, kind) are answered without applying twice.
// A release with no applied reserve for its reference changes nothing, and a
// reserve arriving after such a release is dropped.
type Inventory struct {
	mu      sync.Mutex
	levels  map[string]int
	applied map[string]bool
	calls   []stock.AdjustRequest

	// Err, when set, fails every call of the matching kind.
	ReserveErr error
	ReleaseErr error
	// LoseReserveReply applies reserves and then answers ErrInventoryUnavailable.
	LoseReserveReply bool
}

func New(levels map[string]int) *Inventory {
	cp := make(map[string]int, len(levels))
	for k, v := range levels {
		cp[k] = v
	}
	return &Inventory{levels: cp, applied: map[string]bool{}}
}

func (inv *Inventory) Adjust(ctx context.Context, req stock.AdjustRequest) ([]stock.ItemResult, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.calls = append(inv.calls, req)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch {
	case req.Kind == stock.KindReserve && inv.ReserveErr != nil:
		return nil, inv.ReserveErr
	case req.Kind == stock.KindRelease && inv.ReleaseErr != nil:
		return nil, inv.ReleaseErr
	}

	key := req.Reference + ":" + string(req.Kind)
	if inv.applied[key] {
		return inv.snapshot(req, false), nil
	}
	if _, seen := inv.applied[key]; seen {
		return nil, nil
	}
	if pairless(inv.applied, req) {
		inv.applied[key] = false
		return nil, inv.lostReply(req)
	}

	next := make(map[string]int, len(req.Items))
	var shortages []stock.Shortage
	for _, d := range req.Items {
		cur, ok := next[d.ProductID]
		if !ok {
			cur = inv.levels[d.ProductID]
		}
		if cur+d.Delta < 0 {
			shortages = append(shortages, stock.Shortage{ProductID: d.ProductID, Requested: -d.Delta, Available: cur})
			continue
		}
		next[d.ProductID] = cur + d.Delta
	}
	if len(shortages) > 0 {
		return nil, &stock.InsufficientStockError{Shortages: shortages}
	}

	out := inv.snapshot(req, true)
	for id, v := range next {
		inv.levels[id] = v
	}
	inv.applied[key] = true
	return out, inv.lostReply(req)
}

// pairless reports a release without an applied reserve, or a reserve that
// a release already overtook.
func pairless(applied map[string]bool, req stock.AdjustRequest) bool {
	switch req.Kind {
	case stock.KindRelease:
		return !applied[req.Reference+":"+string(stock.KindReserve)]
	case stock.KindReserve:
		_, released := applied[req.Reference+":"+string(stock.KindRelease)]
		return released
	}
	return false
}

func (inv *Inventory) lostReply(req stock.AdjustRequest) error {
	if req.Kind == stock.KindReserve && inv.LoseReserveReply {
		return stock.ErrInventoryUnavailable
	}
	return nil
}

func (inv *Inventory) snapshot(req stock.AdjustRequest, apply bool) []stock.ItemResult {
	out := make([]stock.ItemResult, 0, len(req.Items))
	running := map[string]int{}
	for _, d := range req.Items {
		prev, ok := running[d.ProductID]
		if !ok {
			prev = inv.levels[d.ProductID]
		}
		cur := prev
		if apply {
			cur = prev + d.Delta
		}
		running[d.ProductID] = cur
		out = append(out, stock.ItemResult{ProductID: d.ProductID, Previous: prev, Current: cur})
	}
	return out
}

func (inv *Inventory) Level(productID string) int {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.levels[productID]
}

// Calls returns the requests received, optionally filtered by kind.
func (inv *Inventory) Calls(kind stock.Kind) []stock.AdjustRequest {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	var out []stock.AdjustRequest
	for _, c := range inv.calls {
		if kind == "" || c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}
