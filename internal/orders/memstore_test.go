package orders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-order-payments/internal/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStoreCreateGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	o := newOrder(t)
	require.NoError(t, s.Create(ctx, o))
	assert.ErrorIs(t, s.Create(ctx, o), ErrAlreadyExists)

	got, err := s.Get(ctx, o.Token)
	require.NoError(t, err)
	assert.Equal(t, o.View(), got.View())

	token, err := s.TokenForPayment(ctx, o.Payment().ID)
	require.NoError(t, err)
	assert.Equal(t, o.Token, token)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemStoreUpdateDiscardsOnError(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	o := newOrder(t)
	require.NoError(t, s.Create(ctx, o))

	undone := false
	boom := errors.New("boom")
	_, err := s.Update(ctx, o.Token, func(ctx context.Context, o *Order) error {
		txn.OnRollback(ctx, func() { undone = true })
		require.NoError(t, o.Transition(StatusPaid, t0))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.True(t, undone)

	got, err := s.Get(ctx, o.Token)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status())
}

func TestMemStoreUpdateSerialisesPerOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	o := newOrder(t)
	require.NoError(t, s.Create(ctx, o))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, o.Token, func(_ context.Context, o *Order) error {
				return o.Transition(StatusPaid, t0)
			})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, o.Token)
	require.NoError(t, err)
	assert.Equal(t, 1, successes)
	assert.Len(t, got.History(), 2)
}

func TestMemStoreListStaleAndPurge(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	for i, age := range []time.Duration{30 * time.Minute, 20 * time.Minute, time.Minute} {
		o, err := New(NewOrderInput{
			Token: string(rune('a' + i)), BuyerID: "b", MerchantID: "m",
			Items: []LineItem{{ProductID: "P", Quantity: 1, UnitPrice: 1}},
			Now:   t0.Add(-age),
		})
		require.NoError(t, err)
		require.NoError(t, s.Create(ctx, o))
	}

	tokens, err := s.ListStale(ctx, StatusPending, t0.Add(-15*time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, tokens, "oldest first")

	tokens, err = s.ListStale(ctx, StatusPending, t0.Add(-15*time.Minute), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, tokens)

	require.NoError(t, s.Purge(ctx, "a"))
	assert.ErrorIs(t, s.Purge(ctx, "a"), ErrNotFound)
	_, err = s.TokenForPayment(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemStoreOutboxFollowsCommits(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	s.Producer = "test"
	o := newOrder(t)
	require.NoError(t, s.Create(ctx, o))

	_, err := s.Update(ctx, o.Token, func(_ context.Context, o *Order) error {
		require.NoError(t, o.Transition(StatusCancelledUser, time.Now()))
		return errors.New("abort")
	})
	require.Error(t, err)

	_, err = s.Update(ctx, o.Token, func(_ context.Context, o *Order) error {
		return o.Transition(StatusCancelledAdmin, time.Now())
	})
	require.NoError(t, err)

	n, err := s.Drain(ctx, 10, func(context.Context, []Envelope) error { return errors.New("down") })
	require.Error(t, err)
	assert.Zero(t, n)

	var got []Envelope
	n, err = s.Drain(ctx, 10, func(_ context.Context, envs []Envelope) error {
		got = envs
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, got, 1)
	assert.Equal(t, o.Token, got[0].CorrelationID)
	assert.Equal(t, "test", got[0].Producer)
}
