package evm

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/vietddude/sweepwatch/internal/infra/chain"
)

// SignTransfer signs an EVM transfer with key and returns the raw transaction bytes.
// The key must control the transfer's source address.
func SignTransfer(t *chain.Transfer, key *ecdsa.PrivateKey, chainID *big.Int) ([]byte, error) {
	tx, ok := t.Payload.(*types.Transaction)
	if !ok {
		return nil, fmt.Errorf("unexpected evm payload %T", t.Payload)
	}
	signerAddr := crypto.PubkeyToAddress(key.PublicKey)
	if !strings.EqualFold(signerAddr.Hex(), t.From) {
		return nil, fmt.Errorf("key for %s cannot sign for %s", signerAddr.Hex(), t.From)
	}

	signed, err := types.SignTx(tx, types.NewEIP155Signer(chainID), key)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return signed.MarshalBinary()
}
