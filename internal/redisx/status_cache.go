package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-order-payments/internal/orders"
	"github.com/redis/go-redis/v9"
)

// StatusCache caches order views for reads. It also implements
// orders.Publisher so every committed status change evicts the entry.
type StatusCache struct {
	Redis *redis.Client
}

func (c *StatusCache) Get(ctx context.Context, token string) (orders.View, bool) {
	var v orders.View
	s, err := c.Redis.Get(ctx, fmt.Sprintf(KeyOrderStatus, token)).Result()
	if err != nil || s == "" {
		return v, false
	}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return v, false
	}
	return v, true
}

func (c *StatusCache) Put(ctx context.Context, v orders.View) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Redis.Set(ctx, fmt.Sprintf(KeyOrderStatus, v.Token), b, TTLStatusCache).Err()
}

func (c *StatusCache) Invalidate(ctx context.Context, token string) error {
	err := c.Redis.Del(ctx, fmt.Sprintf(KeyOrderStatus, token)).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

func (c *StatusCache) Publish(ctx context.Context, env orders.Envelope) error {
	if env.CorrelationID == "" {
		return nil
	}
	return c.Invalidate(ctx, env.CorrelationID)
}
