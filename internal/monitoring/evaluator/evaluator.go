// Package evaluator decides which wallet balances breach the USD threshold
// and which of those breaches may be acted on.
package evaluator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vietddude/sweepwatch/internal/core/domain"
	"github.com/vietddude/sweepwatch/internal/infra/storage"
)

// DefaultFailedRetryAfter keeps a tuple quiet after a failed sweep.
const DefaultFailedRetryAfter = time.Hour

// Evaluate returns the breach decisions for one wallet snapshot.
//
// Values are aggregated per chain family. When a family's total is at or above
// the threshold, every valued asset with a positive balance on that family is
// returned, tokens before the native asset. Assets without a price are left
// out of the total and recorded on result.
func Evaluate(
	snap domain.WalletBalanceSnapshot,
	threshold decimal.Decimal,
	book *PriceBook,
	result *domain.CycleResult,
) []domain.BreachDecision {
	var decisions []domain.BreachDecision

	byFamily := snap.ByFamily()
	for _, family := range domain.ChainFamilies {
		balances := byFamily[family]
		if len(balances) == 0 {
			continue
		}

		total := decimal.Zero
		var valued []domain.BreachDecision
		for _, b := range balances {
			if b.Amount == nil || b.Amount.Sign() <= 0 {
				continue
			}
			price, err := book.Price(b.Asset)
			if err != nil {
				if result != nil {
					result.AddError(snap.WalletID, family, b.Asset.Key(), err)
				}
				continue
			}
			usd := b.Units().Mul(price)
			total = total.Add(usd)
			valued = append(valued, domain.BreachDecision{
				WalletID:    snap.WalletID,
				ChainFamily: family,
				Address:     b.Address,
				Asset:       b.Asset,
				AmountRaw:   b.Amount,
				USDValue:    usd,
			})
		}

		if len(valued) == 0 || total.LessThan(threshold) {
			continue
		}

		sort.SliceStable(valued, func(i, j int) bool {
			return !valued[i].Asset.IsNative() && valued[j].Asset.IsNative()
		})
		for i := range valued {
			valued[i].FamilyUSDValue = total
		}
		decisions = append(decisions, valued...)
	}
	return decisions
}

// Gate filters breach decisions down to the ones a sweep may be started for.
type Gate struct {
	sweeps           storage.SweepRepository
	failedRetryAfter time.Duration
	now              func() time.Time
	log              *slog.Logger
}

// NewGate creates a gate. failedRetryAfter <= 0 selects DefaultFailedRetryAfter.
func NewGate(sweeps storage.SweepRepository, failedRetryAfter time.Duration) *Gate {
	if failedRetryAfter <= 0 {
		failedRetryAfter = DefaultFailedRetryAfter
	}
	return &Gate{
		sweeps:           sweeps,
		failedRetryAfter: failedRetryAfter,
		now:              time.Now,
		log:              slog.Default().With("component", "evaluator"),
	}
}

// Reason explains why a decision was held back.
type Reason string

const (
	ReasonActive         Reason = "active_sweep"
	ReasonRecentlyFailed Reason = "recently_failed"
)

// Check reports whether a sweep may start for d. A non-empty reason means it
// may not. Storage errors are returned as is.
func (g *Gate) Check(ctx context.Context, d domain.BreachDecision) (Reason, error) {
	tuple := d.Tuple()

	active, err := g.sweeps.Active(ctx, tuple)
	if err != nil {
		return "", fmt.Errorf("check active sweep for %s: %w", tuple, err)
	}
	if active != nil {
		return ReasonActive, nil
	}

	latest, err := g.sweeps.LatestForTuple(ctx, tuple)
	if err != nil {
		return "", fmt.Errorf("check latest sweep for %s: %w", tuple, err)
	}
	if latest != nil && latest.Status == domain.SweepStatusFailed &&
		g.now().Sub(latest.UpdatedAt) < g.failedRetryAfter {
		return ReasonRecentlyFailed, nil
	}
	return "", nil
}

// Filter returns the decisions Check lets through. Decisions whose check
// fails are recorded on result and dropped.
func (g *Gate) Filter(
	ctx context.Context,
	decisions []domain.BreachDecision,
	result *domain.CycleResult,
) []domain.BreachDecision {
	var out []domain.BreachDecision
	for _, d := range decisions {
		if ctx.Err() != nil {
			return nil
		}
		reason, err := g.Check(ctx, d)
		if err != nil {
			result.AddError(d.WalletID, d.ChainFamily, d.Asset.Key(), err)
			continue
		}
		if reason != "" {
			result.IncSkipped()
			g.log.Debug("Breach held back", "tuple", d.Tuple().String(), "reason", reason)
			continue
		}
		out = append(out, d)
	}
	return out
}
