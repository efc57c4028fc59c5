package domain

import "fmt"

// ChainFamily groups chains that share one RPC dialect.
type ChainFamily string

const (
	ChainFamilyEVM  ChainFamily = "evm"
	ChainFamilyUTXO ChainFamily = "utxo"
	ChainFamilyTron ChainFamily = "tron"
)

// ChainFamilies lists the supported families in a stable order.
var ChainFamilies = []ChainFamily{
	ChainFamilyEVM,
	ChainFamilyUTXO,
	ChainFamilyTron,
}

// ParseChainFamily accepts the canonical names plus a few common aliases.
func ParseChainFamily(s string) (ChainFamily, error) {
	switch s {
	case "evm", "ethereum", "eth":
		return ChainFamilyEVM, nil
	case "utxo", "bitcoin", "btc":
		return ChainFamilyUTXO, nil
	case "tron", "trx":
		return ChainFamilyTron, nil
	default:
		return "", fmt.Errorf("unknown chain family %q", s)
	}
}

// Asset identifies a native coin or token on a chain family.
// Contract is empty for the family's native asset.
type Asset struct {
	Symbol   string `json:"symbol"   yaml:"symbol"`
	Contract string `json:"contract" yaml:"contract"`
	Decimals uint8  `json:"decimals" yaml:"decimals"`
}

// IsNative reports whether the asset is the chain's native coin.
func (a Asset) IsNative() bool {
	return a.Contract == ""
}

// Key is the stable identifier used in sweep tuples and price lookups.
func (a Asset) Key() string {
	if a.IsNative() {
		return a.Symbol
	}
	return a.Symbol + ":" + a.Contract
}

func (a Asset) String() string {
	return a.Key()
}
