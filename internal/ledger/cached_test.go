package ledger

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/ariefcatur/go-order-payments/internal/txn"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachedFallsBackWhenRedisIsDown(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 50 * time.Millisecond})
	t.Cleanup(func() { _ = rdb.Close() })

	inner := NewMemory()
	l := &Cached{Inner: inner, Redis: rdb, Service: "webhook"}
	ctx := context.Background()

	seen, err := l.Seen(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, l.Record(ctx, "evt-1", time.Now()))
	assert.ErrorIs(t, l.Record(ctx, "evt-1", time.Now()), ErrDuplicate)

	seen, err = l.Seen(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestCachedWritesRedisOnlyAfterCommit(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set - integration test")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })

	l := &Cached{Inner: NewMemory(), Redis: rdb, Service: "test-" + uuid.NewString()}
	ctx := context.Background()

	txCtx, finish := txn.Begin(ctx)
	require.NoError(t, l.Record(txCtx, "evt-rb", time.Now()))
	finish(false)
	n, err := rdb.Exists(ctx, l.key("evt-rb")).Result()
	require.NoError(t, err)
	assert.Zero(t, n, "rolled back record is not cached")

	txCtx, finish = txn.Begin(ctx)
	require.NoError(t, l.Record(txCtx, "evt-ok", time.Now()))
	finish(true)
	n, err = rdb.Exists(ctx, l.key("evt-ok")).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
