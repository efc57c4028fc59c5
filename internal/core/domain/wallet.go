package domain

// Wallet is a monitored wallet as exposed by the wallet-management subsystem.
// The monitor only reads it.
type Wallet struct {
	ID                     string                 `json:"id"                        yaml:"id"`
	AddressesByChainFamily map[ChainFamily]string `json:"addresses_by_chain_family" yaml:"addresses"`
	IsMain                 bool                   `json:"is_main"                   yaml:"is_main"`
}

// Address returns the wallet's address on family, if any.
func (w Wallet) Address(family ChainFamily) (string, bool) {
	addr, ok := w.AddressesByChainFamily[family]
	return addr, ok && addr != ""
}
