// Package chaintest provides an in-memory chain adapter for tests.
package chaintest

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math/big"
	"sync"

	"github.com/vietddude/sweepwatch/internal/core/domain"
	"github.com/vietddude/sweepwatch/internal/infra/chain"
)

// Adapter is a scripted chain.Adapter. The zero value is not usable; use New.
type Adapter struct {
	family domain.ChainFamily
	native domain.Asset

	mu          sync.Mutex
	balances    map[string]*big.Int
	balanceErrs map[string]error
	statuses    map[string]domain.TxStatus
	broadcasts  []string
	reserved    []*big.Int

	// BuildErr and BroadcastErr fail the corresponding step when set.
	BuildErr     error
	BroadcastErr error
	// Fee is deducted from native transfers.
	Fee *big.Int
	// OnBalance runs before every balance lookup.
	OnBalance func(ctx context.Context, address string, asset domain.Asset)
}

func New(family domain.ChainFamily, native domain.Asset) *Adapter {
	return &Adapter{
		family:      family,
		native:      native,
		balances:    make(map[string]*big.Int),
		balanceErrs: make(map[string]error),
		statuses:    make(map[string]domain.TxStatus),
		Fee:         new(big.Int),
	}
}

func key(address string, asset domain.Asset) string {
	return address + "|" + asset.Key()
}

// SetBalance scripts the balance returned for address and asset.
func (a *Adapter) SetBalance(address string, asset domain.Asset, amount *big.Int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.balances[key(address, asset)] = amount
}

// FailBalance makes the balance lookup for address and asset fail with err.
func (a *Adapter) FailBalance(address string, asset domain.Asset, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.balanceErrs[key(address, asset)] = err
}

// SetStatus scripts the on-chain status of a transaction.
func (a *Adapter) SetStatus(txHash string, status domain.TxStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.statuses[txHash] = status
}

// Broadcasts returns the hashes of every broadcast transaction.
func (a *Adapter) Broadcasts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.broadcasts...)
}

// Reserved returns the reserved amount passed to every BuildTransfer call.
func (a *Adapter) Reserved() []*big.Int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*big.Int(nil), a.reserved...)
}

func (a *Adapter) Family() domain.ChainFamily { return a.family }
func (a *Adapter) NativeAsset() domain.Asset  { return a.native }

func (a *Adapter) ValidateAddress(address string) error {
	if address == "" {
		return chain.ErrInvalidAddress
	}
	return nil
}

func (a *Adapter) Balance(ctx context.Context, address string, asset domain.Asset) (*big.Int, error) {
	if a.OnBalance != nil {
		a.OnBalance(ctx, address, asset)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.balanceErrs[key(address, asset)]; err != nil {
		return nil, err
	}
	if bal, ok := a.balances[key(address, asset)]; ok {
		return new(big.Int).Set(bal), nil
	}
	return new(big.Int), nil
}

func (a *Adapter) BuildTransfer(
	_ context.Context,
	from, to string,
	asset domain.Asset,
	amount *big.Int,
	reserved *big.Int,
) (*chain.Transfer, error) {
	if a.BuildErr != nil {
		return nil, a.BuildErr
	}
	r := new(big.Int)
	if reserved != nil {
		r.Set(reserved)
	}
	a.mu.Lock()
	a.reserved = append(a.reserved, r)
	a.mu.Unlock()

	moved := new(big.Int).Set(amount)
	if asset.IsNative() {
		moved = chain.Available(moved, reserved)
		if moved.Cmp(a.Fee) <= 0 {
			return nil, chain.ErrInsufficientFundsForFee
		}
		moved.Sub(moved, a.Fee)
	}
	return &chain.Transfer{
		ChainFamily: a.family,
		From:        from,
		To:          to,
		Asset:       asset,
		Amount:      moved,
		Fee:         new(big.Int).Set(a.Fee),
		Unsigned:    []byte(from + ">" + to + ":" + moved.String()),
	}, nil
}

// TxHash hashes the signed bytes; it differs from the sequential hashes
// Broadcast hands out.
func (a *Adapter) TxHash(signed []byte) (string, error) {
	return fmt.Sprintf("0x%x", sha256.Sum256(signed)), nil
}

func (a *Adapter) Broadcast(_ context.Context, signed []byte) (string, error) {
	if a.BroadcastErr != nil {
		return "", a.BroadcastErr
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	hash := fmt.Sprintf("0x%s%04d", a.family, len(a.broadcasts)+1)
	a.broadcasts = append(a.broadcasts, hash)
	a.statuses[hash] = domain.TxStatusPending
	return hash, nil
}

func (a *Adapter) TransactionStatus(_ context.Context, txHash string) (domain.TxStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.statuses[txHash]; ok {
		return s, nil
	}
	return domain.TxStatusNotFound, nil
}

// Signer signs by echoing the unsigned payload.
type Signer struct {
	Err error
}

func (s Signer) Sign(_ context.Context, _ string, t *chain.Transfer) ([]byte, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return append([]byte("signed:"), t.Unsigned...), nil
}
