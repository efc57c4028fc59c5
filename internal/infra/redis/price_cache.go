package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// GetPrice returns a cached USD price. found is false on a cache miss.
func (c *Client) GetPrice(ctx context.Context, asset string) (price decimal.Decimal, found bool, err error) {
	val, err := c.rdb.Get(ctx, c.priceKey(asset)).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("get failed: %w", err)
	}
	price, err = decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("invalid cached price %q: %w", val, err)
	}
	return price, true, nil
}

// SetPrice caches a USD price for ttl.
func (c *Client) SetPrice(ctx context.Context, asset string, price decimal.Decimal, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, c.priceKey(asset), price.String(), ttl).Err(); err != nil {
		return fmt.Errorf("set failed: %w", err)
	}
	return nil
}
