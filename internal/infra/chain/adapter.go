package chain

import (
	"context"
	"errors"
	"math/big"

	"github.com/vietddude/sweepwatch/internal/core/domain"
	"github.com/vietddude/sweepwatch/internal/infra/rpc/provider"
)

var (
	// ErrInsufficientFundsForFee is returned when the balance cannot cover the network fee.
	ErrInsufficientFundsForFee = errors.New("insufficient funds for network fee")
	// ErrUnsupportedAsset is returned for assets the family cannot hold.
	ErrUnsupportedAsset = errors.New("unsupported asset")
	// ErrInvalidAddress is returned when an address does not parse for the family.
	ErrInvalidAddress = errors.New("invalid address")
)

// Client executes operations against a chain family's endpoints.
// routing.FamilyClient is the production implementation.
type Client interface {
	Execute(ctx context.Context, op provider.Operation) (any, error)
}

// Transfer is an unsigned sweep ready for signing.
type Transfer struct {
	ChainFamily domain.ChainFamily
	From        string
	To          string
	Asset       domain.Asset
	// Amount is what the destination receives; native sweeps already have the fee deducted.
	Amount *big.Int
	Fee    *big.Int

	// Unsigned is the family's canonical unsigned serialization, used by remote signers.
	Unsigned []byte
	// Payload is the family-specific typed transaction used by local signing.
	Payload any
}

// Adapter defines the chain-level operations the monitor needs.
// This is the boundary between sweep logic and chain-specific RPC dialects.
type Adapter interface {
	// Family returns the chain family served
	Family() domain.ChainFamily

	// NativeAsset returns the family's fee-paying asset
	NativeAsset() domain.Asset

	// Balance returns the raw balance of asset held by address
	Balance(ctx context.Context, address string, asset domain.Asset) (*big.Int, error)

	// BuildTransfer prepares a fee-aware transfer of up to amount from one address to another.
	// reserved is native balance already committed by unconfirmed transfers from
	// the same address and is kept out of the spend; nil means none.
	BuildTransfer(
		ctx context.Context,
		from, to string,
		asset domain.Asset,
		amount *big.Int,
		reserved *big.Int,
	) (*Transfer, error)

	// TxHash computes the hash a signed transaction will have on chain
	TxHash(signed []byte) (string, error)

	// Broadcast submits a signed transaction and returns its hash. A node that
	// already holds the transaction counts as success.
	Broadcast(ctx context.Context, signed []byte) (string, error)

	// TransactionStatus reports the on-chain state of a transaction
	TransactionStatus(ctx context.Context, txHash string) (domain.TxStatus, error)

	// ValidateAddress checks the address format
	ValidateAddress(address string) error
}

// Available returns balance less reserved, floored at zero.
func Available(balance, reserved *big.Int) *big.Int {
	out := new(big.Int).Set(balance)
	if reserved != nil {
		out.Sub(out, reserved)
	}
	if out.Sign() < 0 {
		out.SetInt64(0)
	}
	return out
}
