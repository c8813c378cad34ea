package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const keyPrefix = "ticket_idem:"

// Redis maps client idempotency keys to order ids with a TTL.
type Redis struct {
	Client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{Client: client}
}

func key(idempotencyKey string) string {
	return keyPrefix + idempotencyKey
}

// Reserve looks up the order id previously bound to idempotencyKey.
func (r *Redis) Reserve(ctx context.Context, idempotencyKey string) (string, bool, error) {
	val, err := r.Client.Get(ctx, key(idempotencyKey)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", idempotencyKey, err)
	}
	return val, true, nil
}

// Bind records orderID under idempotencyKey. The first binding wins; a later
// Bind for the same key within the TTL is ignored.
func (r *Redis) Bind(ctx context.Context, idempotencyKey, orderID string, ttl time.Duration) error {
	_, err := r.Client.SetNX(ctx, key(idempotencyKey), orderID, ttl).Result()
	if err != nil {
		return fmt.Errorf("redis setnx %s: %w", idempotencyKey, err)
	}
	return nil
}

// Rebind overwrites the binding for idempotencyKey. Used when the bound order
// is gone and a replacement was issued.
func (r *Redis) Rebind(ctx context.Context, idempotencyKey, orderID string, ttl time.Duration) error {
	if err := r.Client.Set(ctx, key(idempotencyKey), orderID, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", idempotencyKey, err)
	}
	return nil
}

// Ping checks connectivity at start-up.
func (r *Redis) Ping(ctx context.Context) error {
	return r.Client.Ping(ctx).Err()
}
