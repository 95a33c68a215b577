package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/ariefcatur/go-order-payments/internal/txn"
)

type Memory struct {
	records sync.Map // event id -> time.Time
}

func NewMemory() *Memory { return &Memory{} }

func (l *Memory) Seen(_ context.Context, eventID string) (bool, error) {
	_, ok := l.records.Load(eventID)
	return ok, nil
}

func (l *Memory) Record(ctx context.Context, eventID string, at time.Time) error {
	if _, loaded := l.records.LoadOrStore(eventID, at); loaded {
		return ErrDuplicate
	}
	txn.OnRollback(ctx, func() { l.records.Delete(eventID) })
	return nil
}

// Len returns the number of recorded ids.
func (l *Memory) Len() int {
	n := 0
	l.records.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
