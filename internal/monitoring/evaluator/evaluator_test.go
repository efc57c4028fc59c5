package evaluator

import (
	"context"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/sweepwatch/internal/core/domain"
	"github.com/vietddude/sweepwatch/internal/infra/storage/memory"
	"github.com/vietddude/sweepwatch/internal/monitoring/valuation"
)

var (
	eth  = domain.Asset{Symbol: "ETH", Decimals: 18}
	usdc = domain.Asset{Symbol: "USDC", Contract: "0xa0b8", Decimals: 6}
	btc  = domain.Asset{Symbol: "BTC", Decimals: 8}
)

func pow10(n int64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil)
}

// units returns n * 10^(decimals-scale), i.e. n with scale implied decimals.
func units(n int64, decimals uint8, scale int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), pow10(int64(decimals)-scale))
}

func bal(family domain.ChainFamily, asset domain.Asset, amount *big.Int) domain.Balance {
	return domain.Balance{ChainFamily: family, Address: "addr-" + string(family), Asset: asset, Amount: amount}
}

type countingQuoter struct {
	prices valuation.Static
	calls  atomic.Int32
}

func (q *countingQuoter) PriceUSD(ctx context.Context, a domain.Asset) (decimal.Decimal, error) {
	q.calls.Add(1)
	return q.prices.PriceUSD(ctx, a)
}

func book(t *testing.T, prices valuation.Static, snaps ...domain.WalletBalanceSnapshot) *PriceBook {
	t.Helper()
	return Prefetch(context.Background(), prices, snaps, 4)
}

func TestEvaluate_ExampleScenario(t *testing.T) {
	// 0.05 ETH at 250 USD = 12.50 USD against a 10 USD threshold
	snap := domain.WalletBalanceSnapshot{
		WalletID: "W",
		Balances: []domain.Balance{bal(domain.ChainFamilyEVM, eth, units(5, 18, 2))},
	}
	b := book(t, valuation.Static{"ETH": decimal.NewFromInt(250)}, snap)

	decisions := Evaluate(snap, decimal.RequireFromString("10.00"), b, nil)
	require.Len(t, decisions, 1)
	d := decisions[0]
	assert.Equal(t, "W", d.WalletID)
	assert.Equal(t, domain.ChainFamilyEVM, d.ChainFamily)
	assert.Equal(t, "addr-evm", d.Address)
	assert.Equal(t, 0, d.AmountRaw.Cmp(units(5, 18, 2)))
	assert.True(t, d.USDValue.Equal(decimal.RequireFromString("12.5")), d.USDValue.String())
}

func TestEvaluate_Boundary(t *testing.T) {
	snap := domain.WalletBalanceSnapshot{
		WalletID: "W",
		Balances: []domain.Balance{bal(domain.ChainFamilyEVM, eth, units(4, 18, 2))},
	}
	b := book(t, valuation.Static{"ETH": decimal.NewFromInt(250)}, snap)

	// exactly 10.00
	assert.Len(t, Evaluate(snap, decimal.RequireFromString("10"), b, nil), 1)
	assert.Empty(t, Evaluate(snap, decimal.RequireFromString("10.000000000000000001"), b, nil))
}

func TestEvaluate_NoFloatDrift(t *testing.T) {
	// 0.1 + 0.2 USDC at 1 USD must equal 0.3 exactly
	snap := domain.WalletBalanceSnapshot{
		WalletID: "W",
		Balances: []domain.Balance{
			bal(domain.ChainFamilyEVM, usdc, units(1, 6, 1)),
			bal(domain.ChainFamilyEVM, domain.Asset{Symbol: "USDT", Contract: "0xdac1", Decimals: 6}, units(2, 6, 1)),
		},
	}
	b := book(t, valuation.Static{"USDC": decimal.NewFromInt(1), "USDT": decimal.NewFromInt(1)}, snap)
	assert.Len(t, Evaluate(snap, decimal.RequireFromString("0.3"), b, nil), 2)
}

func TestEvaluate_AggregatesPerFamily(t *testing.T) {
	snap := domain.WalletBalanceSnapshot{
		WalletID: "W",
		Balances: []domain.Balance{
			bal(domain.ChainFamilyEVM, eth, units(2, 18, 2)), // 5 USD
			bal(domain.ChainFamilyEVM, usdc, units(6, 6, 0)), // 6 USD
			bal(domain.ChainFamilyUTXO, btc, units(1, 8, 4)), // 9 USD
		},
	}
	b := book(t, valuation.Static{
		"ETH":  decimal.NewFromInt(250),
		"USDC": decimal.NewFromInt(1),
		"BTC":  decimal.NewFromInt(90_000),
	}, snap)

	decisions := Evaluate(snap, decimal.NewFromInt(10), b, nil)
	require.Len(t, decisions, 2)

	// token first so the native balance still pays for gas
	assert.Equal(t, usdc, decisions[0].Asset)
	assert.Equal(t, eth, decisions[1].Asset)
	for _, d := range decisions {
		assert.Equal(t, domain.ChainFamilyEVM, d.ChainFamily)
		assert.True(t, d.FamilyUSDValue.Equal(decimal.NewFromInt(11)))
	}
}

func TestEvaluate_MissingPriceFailsSafe(t *testing.T) {
	snap := domain.WalletBalanceSnapshot{
		WalletID: "W",
		Balances: []domain.Balance{
			bal(domain.ChainFamilyEVM, eth, units(1, 18, 0)),
			bal(domain.ChainFamilyEVM, usdc, units(100, 6, 0)),
		},
	}
	b := book(t, valuation.Static{"USDC": decimal.NewFromInt(1)}, snap)
	result := domain.NewCycleResult("c")

	decisions := Evaluate(snap, decimal.NewFromInt(50), b, result)
	require.Len(t, decisions, 1)
	assert.Equal(t, usdc, decisions[0].Asset)

	errs := result.Errors()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0].Err, valuation.ErrUnavailable)
	assert.Equal(t, "ETH", errs[0].Asset)
}

func TestEvaluate_ZeroBalancesIgnored(t *testing.T) {
	snap := domain.WalletBalanceSnapshot{
		WalletID: "W",
		Balances: []domain.Balance{bal(domain.ChainFamilyEVM, eth, big.NewInt(0))},
	}
	b := book(t, valuation.Static{}, snap)
	assert.Empty(t, Evaluate(snap, decimal.Zero, b, nil))
	assert.Zero(t, b.Len())
}

func TestPrefetch_OneLookupPerAsset(t *testing.T) {
	q := &countingQuoter{prices: valuation.Static{"ETH": decimal.NewFromInt(1), "BTC": decimal.NewFromInt(2)}}
	var snaps []domain.WalletBalanceSnapshot
	for i := 0; i < 20; i++ {
		snaps = append(snaps, domain.WalletBalanceSnapshot{
			WalletID: "w",
			Balances: []domain.Balance{
				bal(domain.ChainFamilyEVM, eth, big.NewInt(1)),
				bal(domain.ChainFamilyUTXO, btc, big.NewInt(1)),
			},
		})
	}
	b := Prefetch(context.Background(), q, snaps, 2)
	assert.EqualValues(t, 2, q.calls.Load())
	assert.Equal(t, 2, b.Len())
}

func decision(wallet string) domain.BreachDecision {
	return domain.BreachDecision{
		WalletID:    wallet,
		ChainFamily: domain.ChainFamilyEVM,
		Asset:       eth,
		AmountRaw:   big.NewInt(1),
	}
}

func TestGate(t *testing.T) {
	store := memory.NewMemoryStorage()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })
	repo := memory.NewSweepRepo(store)
	gate := NewGate(repo, time.Hour)
	gate.now = func() time.Time { return now }
	ctx := context.Background()

	reason, err := gate.Check(ctx, decision("w1"))
	require.NoError(t, err)
	assert.Empty(t, reason)

	rec := &domain.SweepRecord{WalletID: "w1", ChainFamily: domain.ChainFamilyEVM, Asset: "ETH", Amount: big.NewInt(1)}
	require.NoError(t, repo.InsertPending(ctx, rec))
	reason, err = gate.Check(ctx, decision("w1"))
	require.NoError(t, err)
	assert.Equal(t, ReasonActive, reason)

	require.NoError(t, repo.MarkFailed(ctx, rec.ID, "rejected"))
	now = now.Add(30 * time.Minute)
	reason, err = gate.Check(ctx, decision("w1"))
	require.NoError(t, err)
	assert.Equal(t, ReasonRecentlyFailed, reason)

	now = now.Add(31 * time.Minute)
	reason, err = gate.Check(ctx, decision("w1"))
	require.NoError(t, err)
	assert.Empty(t, reason)
}

func TestGate_Filter(t *testing.T) {
	store := memory.NewMemoryStorage()
	repo := memory.NewSweepRepo(store)
	ctx := context.Background()
	require.NoError(t, repo.InsertPending(ctx, &domain.SweepRecord{
		WalletID: "w1", ChainFamily: domain.ChainFamilyEVM, Asset: "ETH", Amount: big.NewInt(1),
	}))

	result := domain.NewCycleResult("c")
	out := NewGate(repo, 0).Filter(ctx, []domain.BreachDecision{decision("w1"), decision("w2")}, result)
	require.Len(t, out, 1)
	assert.Equal(t, "w2", out[0].WalletID)
	assert.Equal(t, 1, result.SweepsSkipped)
}
