package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const healthKey = keyPrefix + "health"

// HealthCheck implements ports.HealthChecker for Redis. The delivery store and
// idempotency cache write on every request, so a read-only replica counts as
// unhealthy.
type HealthCheck struct {
	client *goredis.Client
}

func NewHealthCheck(client *goredis.Client) *HealthCheck {
	return &HealthCheck{client: client}
}

func (h *HealthCheck) Ping(ctx context.Context) error {
	if err := h.client.Set(ctx, healthKey, time.Now().Unix(), 10*time.Second).Err(); err != nil {
		return fmt.Errorf("redis health: %w", err)
	}
	return nil
}

func (h *HealthCheck) Name() string {
	return "redis"
}
