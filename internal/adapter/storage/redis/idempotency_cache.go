package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// IdempotencyCache implements ports.IdempotencyCache. Each key maps to the id
// of the withdrawal it created; the first writer wins, like the
// transactions.idempotency_key unique index it sits in front of.
type IdempotencyCache struct {
	client *goredis.Client
	prefix string
}

func NewIdempotencyCache(client *goredis.Client) *IdempotencyCache {
	return &IdempotencyCache{
		client: client,
		prefix: keyPrefix + "withdrawal-key:",
	}
}

func (c *IdempotencyCache) Lookup(ctx context.Context, key string) (uuid.UUID, error) {
	val, err := c.client.Get(ctx, c.prefix+key).Result()
	if errors.Is(err, goredis.Nil) {
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("redis idempotency get: %w", err)
	}
	id, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, fmt.Errorf("redis idempotency entry %q: %w", key, err)
	}
	return id, nil
}

func (c *IdempotencyCache) Remember(ctx context.Context, key string, txID uuid.UUID, ttl time.Duration) error {
	if err := c.client.SetNX(ctx, c.prefix+key, txID.String(), ttl).Err(); err != nil {
		return fmt.Errorf("redis idempotency set: %w", err)
	}
	return nil
}
