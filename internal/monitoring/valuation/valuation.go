// Package valuation converts assets into USD.
//
// Prices are treated as fallible: any failure surfaces as ErrUnavailable and
// the caller must not act on the asset for that cycle.
package valuation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vietddude/sweepwatch/internal/core/domain"
)

// ErrUnavailable means no trustworthy price could be obtained.
var ErrUnavailable = errors.New("valuation unavailable")

// Quoter returns the USD price of one whole unit of an asset.
type Quoter interface {
	PriceUSD(ctx context.Context, asset domain.Asset) (decimal.Decimal, error)
}

// Static serves fixed prices keyed by asset key or symbol.
type Static map[string]decimal.Decimal

func (s Static) PriceUSD(_ context.Context, asset domain.Asset) (decimal.Decimal, error) {
	if p, ok := s[asset.Key()]; ok {
		return p, nil
	}
	if p, ok := s[asset.Symbol]; ok {
		return p, nil
	}
	return decimal.Zero, fmt.Errorf("%w: no static price for %s", ErrUnavailable, asset.Key())
}

// Chain tries each quoter in order and returns the first price.
type Chain []Quoter

func (c Chain) PriceUSD(ctx context.Context, asset domain.Asset) (decimal.Decimal, error) {
	var errs []error
	for _, q := range c {
		p, err := q.PriceUSD(ctx, asset)
		if err == nil {
			return p, nil
		}
		if ctx.Err() != nil {
			return decimal.Zero, ctx.Err()
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return decimal.Zero, fmt.Errorf("%w: no quoters configured", ErrUnavailable)
	}
	return decimal.Zero, fmt.Errorf("%w: %w", ErrUnavailable, errors.Join(errs...))
}

// PriceCache stores prices between cycles. The redis client implements it.
type PriceCache interface {
	GetPrice(ctx context.Context, asset string) (decimal.Decimal, bool, error)
	SetPrice(ctx context.Context, asset string, price decimal.Decimal, ttl time.Duration) error
}

// Cached serves prices from a shared cache and fills it from next on a miss.
// Cache failures fall through to next.
type Cached struct {
	next  Quoter
	cache PriceCache
	ttl   time.Duration
	log   *slog.Logger
}

// NewCached wraps next with cache.
func NewCached(next Quoter, cache PriceCache, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cached{
		next:  next,
		cache: cache,
		ttl:   ttl,
		log:   slog.Default().With("component", "valuation"),
	}
}

func (c *Cached) PriceUSD(ctx context.Context, asset domain.Asset) (decimal.Decimal, error) {
	key := asset.Key()
	price, found, err := c.cache.GetPrice(ctx, key)
	if err != nil {
		c.log.Warn("Price cache read failed", "asset", key, "error", err)
	} else if found {
		return price, nil
	}

	price, err = c.next.PriceUSD(ctx, asset)
	if err != nil {
		return decimal.Zero, err
	}
	if err := c.cache.SetPrice(ctx, key, price, c.ttl); err != nil {
		c.log.Warn("Price cache write failed", "asset", key, "error", err)
	}
	return price, nil
}
