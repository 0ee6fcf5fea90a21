package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// PriceCache implements ports.PriceCache. Prices are stored as decimal strings.
type PriceCache struct {
	client *goredis.Client
	prefix string
}

func NewPriceCache(client *goredis.Client) *PriceCache {
	return &PriceCache{
		client: client,
		prefix: keyPrefix + "price:usd:",
	}
}

func (c *PriceCache) Get(ctx context.Context, asset string) (decimal.Decimal, bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+strings.ToUpper(asset)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, fmt.Errorf("redis price get: %w", err)
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("redis price decode %q: %w", raw, err)
	}
	return price, true, nil
}

func (c *PriceCache) Set(ctx context.Context, asset string, price decimal.Decimal, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefix+strings.ToUpper(asset), price.String(), ttl).Err(); err != nil {
		return fmt.Errorf("redis price set: %w", err)
	}
	return nil
}
