package postgres

import (
	"context"
	"fmt"

	"github.com/vietddude/sweepwatch/internal/core/domain"
)

// WalletRepo implements storage.WalletSource over the wallet-management tables.
// It only reads wallets and wallet_addresses; both are owned by that subsystem.
type WalletRepo struct {
	db *DB
}

// NewWalletRepo creates a new PostgreSQL wallet source.
func NewWalletRepo(db *DB) *WalletRepo {
	return &WalletRepo{db: db}
}

// ListWallets returns every wallet with its addresses, ordered by id.
func (r *WalletRepo) ListWallets(ctx context.Context) ([]domain.Wallet, error) {
	query := `
		SELECT w.id, w.is_main, COALESCE(a.chain_family, '') AS chain_family, COALESCE(a.address, '') AS address
		FROM wallets w
		LEFT JOIN wallet_addresses a ON a.wallet_id = w.id
		ORDER BY w.id
	`
	var rows []struct {
		ID          string `db:"id"`
		IsMain      bool   `db:"is_main"`
		ChainFamily string `db:"chain_family"`
		Address     string `db:"address"`
	}
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}

	var wallets []domain.Wallet
	index := make(map[string]int)
	for _, row := range rows {
		i, ok := index[row.ID]
		if !ok {
			i = len(wallets)
			index[row.ID] = i
			wallets = append(wallets, domain.Wallet{
				ID:                     row.ID,
				IsMain:                 row.IsMain,
				AddressesByChainFamily: make(map[domain.ChainFamily]string),
			})
		}
		if row.ChainFamily == "" || row.Address == "" {
			continue
		}
		family, err := domain.ParseChainFamily(row.ChainFamily)
		if err != nil {
			// Families the monitor does not support are ignored
			continue
		}
		wallets[i].AddressesByChainFamily[family] = row.Address
	}
	return wallets, nil
}
