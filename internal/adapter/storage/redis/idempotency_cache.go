package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// IdempotencyCache implements ports.IdempotencyCache using Redis.
// It maps an idempotency key to the transaction it produced, serving as
// the fast path in front of the database unique constraint.
type IdempotencyCache struct {
	client *goredis.Client
	prefix string
}

// NewIdempotencyCache creates a new Redis-backed idempotency cache.
func NewIdempotencyCache(client *goredis.Client) *IdempotencyCache {
	return &IdempotencyCache{
		client: client,
		prefix: "sync:",
	}
}

// Get retrieves the transaction ID recorded for an idempotency key.
// Returns found=false if the key is not cached.
func (c *IdempotencyCache) Get(ctx context.Context, key uuid.UUID) (uuid.UUID, bool, error) {
	val, err := c.client.Get(ctx, c.prefix+key.String()).Result()
	if err != nil {
		if err == goredis.Nil {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, fmt.Errorf("redis idempotency get: %w", err)
	}

	txID, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("parse cached transaction id %q: %w", val, err)
	}
	return txID, true, nil
}

// Set records the transaction produced by an idempotency key with TTL.
func (c *IdempotencyCache) Set(ctx context.Context, key uuid.UUID, transactionID uuid.UUID, ttl time.Duration) error {
	err := c.client.Set(ctx, c.prefix+key.String(), transactionID.String(), ttl).Err()
	if err != nil {
		return fmt.Errorf("redis idempotency set: %w", err)
	}
	return nil
}
