package evaluator

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/sweepwatch/internal/core/domain"
	"github.com/vietddude/sweepwatch/internal/monitoring/metrics"
	"github.com/vietddude/sweepwatch/internal/monitoring/valuation"
)

// PriceBook holds one price lookup per distinct asset for a cycle.
type PriceBook struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
	errs   map[string]error
}

// Price returns the asset's price, or the error its lookup failed with.
func (b *PriceBook) Price(asset domain.Asset) (decimal.Decimal, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err, ok := b.errs[asset.Key()]; ok {
		return decimal.Zero, err
	}
	if p, ok := b.prices[asset.Key()]; ok {
		return p, nil
	}
	return decimal.Zero, valuation.ErrUnavailable
}

// Len returns the number of assets looked up.
func (b *PriceBook) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.prices) + len(b.errs)
}

// Prefetch prices every distinct asset with a non-zero balance in snapshots.
func Prefetch(
	ctx context.Context,
	q valuation.Quoter,
	snapshots []domain.WalletBalanceSnapshot,
	concurrency int,
) *PriceBook {
	book := &PriceBook{
		prices: make(map[string]decimal.Decimal),
		errs:   make(map[string]error),
	}

	assets := make(map[string]domain.Asset)
	for _, s := range snapshots {
		for _, b := range s.Balances {
			if b.Amount != nil && b.Amount.Sign() > 0 {
				assets[b.Asset.Key()] = b.Asset
			}
		}
	}

	var g errgroup.Group
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for key, asset := range assets {
		g.Go(func() error {
			price, err := q.PriceUSD(ctx, asset)
			book.mu.Lock()
			defer book.mu.Unlock()
			if err != nil {
				metrics.ValuationErrors.WithLabelValues(key).Inc()
				book.errs[key] = err
				return nil
			}
			book.prices[key] = price
			return nil
		})
	}
	_ = g.Wait()
	return book
}
