package tron

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/vietddude/sweepwatch/internal/infra/chain"
)

// SignTransfer signs a Tron transfer and returns the transaction JSON expected by
// wallet/broadcasttransaction.
func SignTransfer(t *chain.Transfer, key *ecdsa.PrivateKey) ([]byte, error) {
	tx, ok := t.Payload.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected tron payload %T", t.Payload)
	}

	owner := EncodeAddress(crypto.PubkeyToAddress(key.PublicKey).Bytes())
	if owner != t.From {
		return nil, fmt.Errorf("key for %s cannot sign for %s", owner, t.From)
	}

	txID, err := hex.DecodeString(chain.String(tx["txID"]))
	if err != nil {
		return nil, fmt.Errorf("invalid txID: %w", err)
	}
	digest := sha256.Sum256(t.Unsigned)
	if !bytes.Equal(digest[:], txID) {
		return nil, fmt.Errorf("txID does not match raw_data_hex")
	}

	sig, err := crypto.Sign(txID, key)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}

	signed := make(map[string]any, len(tx)+1)
	for k, v := range tx {
		signed[k] = v
	}
	signed["signature"] = []string{hex.EncodeToString(sig)}
	return json.Marshal(signed)
}
