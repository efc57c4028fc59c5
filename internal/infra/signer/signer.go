// Package signer turns unsigned sweep transfers into broadcastable bytes.
//
// Key custody is outside the monitor: LocalSigner reads keys from a KeySource
// (typically environment-provided for development), RemoteSigner delegates to a
// custody service over HTTP.
package signer

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/vietddude/sweepwatch/internal/infra/chain"
)

// ErrNoKey is returned when no key is available for a wallet.
var ErrNoKey = errors.New("no signing key for wallet")

// Signer signs a transfer on behalf of a wallet.
type Signer interface {
	Sign(ctx context.Context, walletID string, t *chain.Transfer) ([]byte, error)
}

// KeySource resolves the secp256k1 key of a wallet.
type KeySource interface {
	PrivateKey(ctx context.Context, walletID string) (*ecdsa.PrivateKey, error)
}

// StaticKeys is a KeySource backed by hex-encoded keys per wallet id.
type StaticKeys struct {
	mu   sync.RWMutex
	hex  map[string]string
	keys map[string]*ecdsa.PrivateKey
}

func NewStaticKeys(hexKeys map[string]string) *StaticKeys {
	return &StaticKeys{
		hex:  hexKeys,
		keys: make(map[string]*ecdsa.PrivateKey),
	}
}

func (s *StaticKeys) PrivateKey(_ context.Context, walletID string) (*ecdsa.PrivateKey, error) {
	s.mu.RLock()
	key, ok := s.keys[walletID]
	s.mu.RUnlock()
	if ok {
		return key, nil
	}

	raw, ok := s.hex[walletID]
	if !ok || raw == "" {
		return nil, fmt.Errorf("%w %s", ErrNoKey, walletID)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(raw, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse key for %s: %w", walletID, err)
	}

	s.mu.Lock()
	s.keys[walletID] = key
	s.mu.Unlock()
	return key, nil
}
