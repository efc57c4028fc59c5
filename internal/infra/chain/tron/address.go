package tron

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"

	"github.com/vietddude/sweepwatch/internal/infra/chain"
)

// AddressPrefix is the version byte of mainnet Tron addresses.
const AddressPrefix = 0x41

// DecodeAddress returns the 20-byte account id of a base58check address.
func DecodeAddress(address string) ([]byte, error) {
	payload, version, err := base58.CheckDecode(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", chain.ErrInvalidAddress, address, err)
	}
	if version != AddressPrefix || len(payload) != 20 {
		return nil, fmt.Errorf("%w: %q is not a tron address", chain.ErrInvalidAddress, address)
	}
	return payload, nil
}

// EncodeAddress builds the base58check form of a 20-byte account id.
func EncodeAddress(id []byte) string {
	return base58.CheckEncode(id, AddressPrefix)
}

// HexAddress returns the 41-prefixed hex form used by the non-visible API.
func HexAddress(address string) (string, error) {
	id, err := DecodeAddress(address)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%02x%s", AddressPrefix, hex.EncodeToString(id)), nil
}
