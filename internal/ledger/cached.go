package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-payments/internal/redisx"
	"github.com/ariefcatur/go-order-payments/internal/txn"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Cached answers Seen from Redis first and falls back to the inner ledger.
// Redis is only written after the inner record commits, so a cached hit always
// refers to an event whose transition is durable. Redis errors are ignored.
type Cached struct {
	Inner   Ledger
	Redis   *redis.Client
	Service string
	Log     *zap.Logger
}

func (c *Cached) key(eventID string) string {
	return fmt.Sprintf(redisx.KeyDedup, c.Service, eventID)
}

func (c *Cached) Seen(ctx context.Context, eventID string) (bool, error) {
	if ok, err := redisx.Exists(ctx, c.Redis, c.key(eventID)); err == nil && ok {
		return true, nil
	} else if err != nil && c.Log != nil {
		c.Log.Debug("ledger_cache_unavailable", zap.Error(err))
	}

	seen, err := c.Inner.Seen(ctx, eventID)
	if err != nil || !seen {
		return seen, err
	}
	c.remember(ctx, eventID)
	return true, nil
}

func (c *Cached) Record(ctx context.Context, eventID string, at time.Time) error {
	if err := c.Inner.Record(ctx, eventID, at); err != nil {
		return err
	}
	txn.OnCommit(ctx, func() { c.remember(context.WithoutCancel(ctx), eventID) })
	return nil
}

func (c *Cached) remember(ctx context.Context, eventID string) {
	_ = c.Redis.Set(ctx, c.key(eventID), "1", redisx.TTLDedup).Err()
}
