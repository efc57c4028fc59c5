package domain

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Balance is a raw on-chain amount tagged with its precision.
type Balance struct {
	ChainFamily ChainFamily
	Address     string
	Asset       Asset
	Amount      *big.Int
}

// Units converts the raw amount into whole units without rounding.
func (b Balance) Units() decimal.Decimal {
	if b.Amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(b.Amount, -int32(b.Asset.Decimals))
}

// WalletBalanceSnapshot lists every balance fetched for one wallet in a cycle.
// Balances that failed to load are absent; their errors are on the cycle result.
type WalletBalanceSnapshot struct {
	WalletID string
	Balances []Balance
}

// ByFamily groups the snapshot's balances per chain family.
func (s WalletBalanceSnapshot) ByFamily() map[ChainFamily][]Balance {
	out := make(map[ChainFamily][]Balance)
	for _, b := range s.Balances {
		out[b.ChainFamily] = append(out[b.ChainFamily], b)
	}
	return out
}

// BreachDecision is one asset to sweep from a wallet whose family value
// met the threshold.
type BreachDecision struct {
	WalletID    string
	ChainFamily ChainFamily
	Address     string
	Asset       Asset
	AmountRaw   *big.Int
	USDValue    decimal.Decimal
	// FamilyUSDValue is the aggregated value that triggered the breach.
	FamilyUSDValue decimal.Decimal
}

// Tuple returns the idempotency key of the decision.
func (d BreachDecision) Tuple() SweepTuple {
	return SweepTuple{WalletID: d.WalletID, ChainFamily: d.ChainFamily, Asset: d.Asset.Key()}
}
