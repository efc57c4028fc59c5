// Package poller fetches wallet balances across chain families.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/sweepwatch/internal/core/domain"
	"github.com/vietddude/sweepwatch/internal/infra/chain"
	"github.com/vietddude/sweepwatch/internal/infra/rpc/routing"
)

// DefaultConcurrency bounds in-flight wallet polls.
const DefaultConcurrency = 10

// Family is a polled chain family: its adapter and the tokens tracked on it.
type Family struct {
	Adapter chain.Adapter
	Tokens  []domain.Asset
}

// Assets returns the native asset followed by tracked tokens.
func (f Family) Assets() []domain.Asset {
	return append([]domain.Asset{f.Adapter.NativeAsset()}, f.Tokens...)
}

// Poller fetches balances for wallets. Individual failures are recorded on
// the cycle result and never abort the rest of the poll.
type Poller struct {
	families    map[domain.ChainFamily]Family
	concurrency int
	log         *slog.Logger
}

// New creates a poller. concurrency <= 0 selects DefaultConcurrency.
func New(families map[domain.ChainFamily]Family, concurrency int) *Poller {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Poller{
		families:    families,
		concurrency: concurrency,
		log:         slog.Default().With("component", "poller"),
	}
}

// PollAll polls every wallet with bounded concurrency. Snapshots keep the
// order of wallets. The only error returned is the context's.
func (p *Poller) PollAll(
	ctx context.Context,
	wallets []domain.Wallet,
	result *domain.CycleResult,
) ([]domain.WalletBalanceSnapshot, error) {
	snapshots := make([]domain.WalletBalanceSnapshot, len(wallets))

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, w := range wallets {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			snapshots[i] = p.PollWallet(ctx, w, result)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return snapshots, nil
}

// PollWallet fetches every asset balance on every family the wallet has an
// address for. Families are polled concurrently.
func (p *Poller) PollWallet(
	ctx context.Context,
	w domain.Wallet,
	result *domain.CycleResult,
) domain.WalletBalanceSnapshot {
	snap := domain.WalletBalanceSnapshot{WalletID: w.ID}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, familyID := range domain.ChainFamilies {
		address, ok := w.Address(familyID)
		if !ok {
			continue
		}
		fam, ok := p.families[familyID]
		if !ok {
			p.log.Debug("No adapter for wallet family", "wallet", w.ID, "family", familyID)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			balances := p.pollFamily(ctx, w.ID, address, familyID, fam, result)
			mu.Lock()
			snap.Balances = append(snap.Balances, balances...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	// keep snapshot order independent of goroutine scheduling
	ordered := make([]domain.Balance, 0, len(snap.Balances))
	for _, familyID := range domain.ChainFamilies {
		for _, b := range snap.Balances {
			if b.ChainFamily == familyID {
				ordered = append(ordered, b)
			}
		}
	}
	snap.Balances = ordered
	return snap
}

func (p *Poller) pollFamily(
	ctx context.Context,
	walletID, address string,
	familyID domain.ChainFamily,
	fam Family,
	result *domain.CycleResult,
) []domain.Balance {
	var balances []domain.Balance
	for _, asset := range fam.Assets() {
		if ctx.Err() != nil {
			return balances
		}

		amount, err := fam.Adapter.Balance(ctx, address, asset)
		if err != nil {
			if ctx.Err() != nil {
				return balances
			}
			result.AddError(walletID, familyID, asset.Key(), err)
			p.log.Warn("Balance fetch failed",
				"wallet", walletID,
				"family", familyID,
				"asset", asset.Key(),
				"error", err,
			)
			// every endpoint is down; the other assets would fail the same way
			if errors.Is(err, routing.ErrNoHealthyEndpoint) {
				return balances
			}
			continue
		}

		balances = append(balances, domain.Balance{
			ChainFamily: familyID,
			Address:     address,
			Asset:       asset,
			Amount:      amount,
		})
	}
	return balances
}
