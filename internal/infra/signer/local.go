package signer

import (
	"context"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/vietddude/sweepwatch/internal/core/domain"
	"github.com/vietddude/sweepwatch/internal/infra/chain"
	"github.com/vietddude/sweepwatch/internal/infra/chain/bitcoin"
	"github.com/vietddude/sweepwatch/internal/infra/chain/evm"
	"github.com/vietddude/sweepwatch/internal/infra/chain/tron"
)

// LocalSigner signs in-process with keys from a KeySource.
type LocalSigner struct {
	keys       KeySource
	evmChainID *big.Int
	btcParams  *chaincfg.Params
}

func NewLocalSigner(keys KeySource, evmChainID *big.Int, btcParams *chaincfg.Params) *LocalSigner {
	return &LocalSigner{keys: keys, evmChainID: evmChainID, btcParams: btcParams}
}

func (s *LocalSigner) Sign(ctx context.Context, walletID string, t *chain.Transfer) ([]byte, error) {
	key, err := s.keys.PrivateKey(ctx, walletID)
	if err != nil {
		return nil, err
	}

	switch t.ChainFamily {
	case domain.ChainFamilyEVM:
		if s.evmChainID == nil {
			return nil, fmt.Errorf("evm chain id not configured")
		}
		return evm.SignTransfer(t, key, s.evmChainID)
	case domain.ChainFamilyUTXO:
		if s.btcParams == nil {
			return nil, fmt.Errorf("bitcoin network not configured")
		}
		return bitcoin.SignTransfer(t, key, s.btcParams)
	case domain.ChainFamilyTron:
		return tron.SignTransfer(t, key)
	default:
		return nil, fmt.Errorf("cannot sign for chain family %q", t.ChainFamily)
	}
}
