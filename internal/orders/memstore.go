package orders

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-order-payments/internal/txn"
)

// MemStore keeps orders in process memory. It serialises updates per order
// with a keyed mutex; used by tests and single-node development runs.
// Committed status changes are buffered as an outbox, like Repo does.
type MemStore struct {
	// Producer names the service on outbox envelopes.
	Producer string

	mu       sync.RWMutex
	orders   map[string]*Order
	payments map[string]string // payment id -> order token
	outbox   []Envelope
	locks    keyedMutex
	drainMu  sync.Mutex
}

func NewMemStore() *MemStore {
	return &MemStore{
		orders:   map[string]*Order{},
		payments: map[string]string{},
	}
}

func (s *MemStore) Create(_ context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.Token]; ok {
		return ErrAlreadyExists
	}
	if _, ok := s.payments[o.payment.ID]; ok {
		return ErrAlreadyExists
	}
	s.orders[o.Token] = o.Clone()
	s.payments[o.payment.ID] = o.Token
	return nil
}

func (s *MemStore) Get(_ context.Context, token string) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[token]
	if !ok {
		return nil, ErrNotFound
	}
	return o.Clone(), nil
}

func (s *MemStore) TokenForPayment(_ context.Context, paymentID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.payments[paymentID]
	if !ok {
		return "", ErrNotFound
	}
	return token, nil
}

func (s *MemStore) Update(ctx context.Context, token string, fn UpdateFunc) (*Order, error) {
	unlock := s.locks.Lock(token)
	defer unlock()

	current, err := s.Get(ctx, token)
	if err != nil {
		return nil, err
	}

	before := len(current.history)
	ctx, finish := txn.Begin(ctx)
	if err := fn(ctx, current); err != nil {
		finish(false)
		return nil, err
	}

	s.mu.Lock()
	if _, ok := s.orders[token]; !ok {
		s.mu.Unlock()
		finish(false)
		return nil, ErrNotFound
	}
	s.orders[token] = current.Clone()
	s.outbox = append(s.outbox, StatusChangedEvents(s.Producer, current, before)...)
	s.mu.Unlock()
	finish(true)
	return current, nil
}

func (s *MemStore) ListStale(_ context.Context, status Status, createdBefore time.Time, limit int) ([]string, error) {
	s.mu.RLock()
	var stale []*Order
	for _, o := range s.orders {
		if o.status == status && o.CreatedAt.Before(createdBefore) {
			stale = append(stale, o)
		}
	}
	s.mu.RUnlock()

	sort.Slice(stale, func(i, j int) bool { return stale[i].CreatedAt.Before(stale[j].CreatedAt) })
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	out := make([]string, 0, len(stale))
	for _, o := range stale {
		out = append(out, o.Token)
	}
	return out, nil
}

func (s *MemStore) Purge(_ context.Context, token string) error {
	unlock := s.locks.Lock(token)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[token]
	if !ok {
		return ErrNotFound
	}
	delete(s.payments, o.payment.ID)
	delete(s.orders, token)
	return nil
}

// keyedMutex hands out one mutex per key and forgets it once nobody holds it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = map[string]*refMutex{}
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
