package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ariefcatur/go-order-payments/internal/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRecordIsWriteOnce(t *testing.T) {
	ctx := context.Background()
	l := NewMemory()

	seen, err := l.Seen(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, l.Record(ctx, "evt-1", time.Now()))
	assert.ErrorIs(t, l.Record(ctx, "evt-1", time.Now()), ErrDuplicate)

	seen, err = l.Seen(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestMemoryConcurrentRecordSingleWinner(t *testing.T) {
	l := NewMemory()
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Record(context.Background(), "evt", time.Now()) == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, 1, l.Len())
}

func TestMemoryRecordRollsBackWithTransaction(t *testing.T) {
	l := NewMemory()
	ctx, finish := txn.Begin(context.Background())
	require.NoError(t, l.Record(ctx, "evt", time.Now()))
	finish(false)

	seen, _ := l.Seen(context.Background(), "evt")
	assert.False(t, seen, "rolled back record must allow a retry")
	require.NoError(t, l.Record(context.Background(), "evt", time.Now()))
}

func TestKeysAreNamespacedBySource(t *testing.T) {
	ctx := context.Background()
	l := NewMemory()

	require.NoError(t, l.Record(ctx, Key(SourceWebhook, "evt-1"), time.Now()))
	require.NoError(t, l.Record(ctx, Key(SourceCommand, "evt-1"), time.Now()))
	assert.Equal(t, 2, l.Len())
	assert.NotEqual(t, Key(SourceWebhook, "evt-1"), Key(SourceCommand, "evt-1"))
}
