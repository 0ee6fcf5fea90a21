package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DeliveryStore implements ports.DeliveryStore. Keys are body fingerprints of
// webhook deliveries that finished processing.
type DeliveryStore struct {
	client *goredis.Client
	prefix string
}

func NewDeliveryStore(client *goredis.Client) *DeliveryStore {
	return &DeliveryStore{
		client: client,
		prefix: keyPrefix + "delivery:",
	}
}

func (s *DeliveryStore) Seen(ctx context.Context, fingerprint string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+fingerprint).Result()
	if err != nil {
		return false, fmt.Errorf("redis delivery exists: %w", err)
	}
	return n > 0, nil
}

// MarkProcessed records the fingerprint with SET NX. A key that is already
// present is left alone with its original TTL.
func (s *DeliveryStore) MarkProcessed(ctx context.Context, fingerprint string, ttl time.Duration) error {
	err := s.client.SetArgs(ctx, s.prefix+fingerprint, 1, goredis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Err()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("redis delivery mark: %w", err)
	}
	return nil
}
