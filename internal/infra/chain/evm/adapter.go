package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	logger "log/slog"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/sweepwatch/internal/core/domain"
	"github.com/vietddude/sweepwatch/internal/infra/chain"
	"github.com/vietddude/sweepwatch/internal/infra/rpc/provider"
)

const (
	NativeGasLimit = 21000
	// Headroom applied to eth_estimateGas for token transfers, in percent.
	gasHeadroomPercent = 20
)

const erc20ABIJSON = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"}
]`

var erc20ABI = mustABI(erc20ABIJSON)

// Node replies meaning the transaction is already in the pool (geth, erigon, nethermind).
var duplicateTxMessages = []string{"already known", "known transaction", "alreadyknown"}

func mustABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

type EVMAdapter struct {
	client        chain.Client
	chainID       *big.Int
	native        domain.Asset
	confirmations uint64
	log           *logger.Logger
}

func NewEVMAdapter(
	client chain.Client,
	chainID *big.Int,
	native domain.Asset,
	confirmations uint64,
) *EVMAdapter {
	return &EVMAdapter{
		client:        client,
		chainID:       chainID,
		native:        native,
		confirmations: confirmations,
		log:           logger.Default().With("component", "evm"),
	}
}

func (a *EVMAdapter) Family() domain.ChainFamily {
	return domain.ChainFamilyEVM
}

func (a *EVMAdapter) NativeAsset() domain.Asset {
	return a.native
}

// ChainID returns the EIP-155 chain id used for signing.
func (a *EVMAdapter) ChainID() *big.Int {
	return a.chainID
}

func (a *EVMAdapter) ValidateAddress(address string) error {
	if !common.IsHexAddress(address) {
		return fmt.Errorf("%w: %q", chain.ErrInvalidAddress, address)
	}
	return nil
}

func (a *EVMAdapter) Balance(
	ctx context.Context,
	address string,
	asset domain.Asset,
) (*big.Int, error) {
	if err := a.ValidateAddress(address); err != nil {
		return nil, err
	}
	if asset.IsNative() {
		return a.nativeBalance(ctx, address)
	}
	return a.tokenBalance(ctx, address, asset.Contract)
}

func (a *EVMAdapter) nativeBalance(ctx context.Context, address string) (*big.Int, error) {
	op := provider.NewJSONRPCOperation("eth_getBalance", address, "latest")
	result, err := a.client.Execute(ctx, op)
	if err != nil {
		return nil, fmt.Errorf("eth_getBalance failed: %w", err)
	}
	return chain.HexBig(chain.String(result))
}

func (a *EVMAdapter) tokenBalance(ctx context.Context, address, contract string) (*big.Int, error) {
	data, err := erc20ABI.Pack("balanceOf", common.HexToAddress(address))
	if err != nil {
		return nil, err
	}
	op := provider.NewJSONRPCOperation("eth_call", map[string]any{
		"to":   contract,
		"data": hexutil.Encode(data),
	}, "latest")
	result, err := a.client.Execute(ctx, op)
	if err != nil {
		return nil, fmt.Errorf("eth_call balanceOf failed: %w", err)
	}
	return chain.HexBig(chain.String(result))
}

func (a *EVMAdapter) BuildTransfer(
	ctx context.Context,
	from, to string,
	asset domain.Asset,
	amount *big.Int,
	reserved *big.Int,
) (*chain.Transfer, error) {
	if err := a.ValidateAddress(from); err != nil {
		return nil, err
	}
	if err := a.ValidateAddress(to); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("nothing to transfer")
	}

	nonce, err := a.pendingNonce(ctx, from)
	if err != nil {
		return nil, err
	}
	gasPrice, err := a.gasPrice(ctx)
	if err != nil {
		return nil, err
	}
	latest, err := a.nativeBalance(ctx, from)
	if err != nil {
		return nil, err
	}
	// the latest balance does not yet reflect fees of our own pending transactions
	nativeBal := chain.Available(latest, reserved)

	var (
		txTo  common.Address
		value *big.Int
		data  []byte
		gas   uint64
	)

	if asset.IsNative() {
		gas = NativeGasLimit
		fee := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gas))
		spendable := amount
		if nativeBal.Cmp(spendable) < 0 {
			spendable = nativeBal
		}
		if spendable.Cmp(fee) <= 0 {
			return nil, fmt.Errorf("%w: balance %s, fee %s", chain.ErrInsufficientFundsForFee, spendable, fee)
		}
		txTo = common.HexToAddress(to)
		value = new(big.Int).Sub(spendable, fee)
	} else {
		data, err = erc20ABI.Pack("transfer", common.HexToAddress(to), amount)
		if err != nil {
			return nil, err
		}
		gas, err = a.estimateGas(ctx, from, asset.Contract, data)
		if err != nil {
			return nil, err
		}
		fee := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gas))
		if nativeBal.Cmp(fee) < 0 {
			return nil, fmt.Errorf("%w: native balance %s, fee %s", chain.ErrInsufficientFundsForFee, nativeBal, fee)
		}
		txTo = common.HexToAddress(asset.Contract)
		value = new(big.Int)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &txTo,
		Value:    value,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	unsigned, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode transaction: %w", err)
	}

	moved := value
	if !asset.IsNative() {
		moved = new(big.Int).Set(amount)
	}
	return &chain.Transfer{
		ChainFamily: domain.ChainFamilyEVM,
		From:        from,
		To:          to,
		Asset:       asset,
		Amount:      moved,
		Fee:         new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gas)),
		Unsigned:    unsigned,
		Payload:     tx,
	}, nil
}

func (a *EVMAdapter) pendingNonce(ctx context.Context, address string) (uint64, error) {
	op := provider.NewJSONRPCOperation("eth_getTransactionCount", address, "pending")
	result, err := a.client.Execute(ctx, op)
	if err != nil {
		return 0, fmt.Errorf("eth_getTransactionCount failed: %w", err)
	}
	n, err := chain.HexBig(chain.String(result))
	if err != nil {
		return 0, err
	}
	return n.Uint64(), nil
}

func (a *EVMAdapter) gasPrice(ctx context.Context) (*big.Int, error) {
	result, err := a.client.Execute(ctx, provider.NewJSONRPCOperation("eth_gasPrice"))
	if err != nil {
		return nil, fmt.Errorf("eth_gasPrice failed: %w", err)
	}
	return chain.HexBig(chain.String(result))
}

func (a *EVMAdapter) estimateGas(ctx context.Context, from, to string, data []byte) (uint64, error) {
	op := provider.NewJSONRPCOperation("eth_estimateGas", map[string]any{
		"from": from,
		"to":   to,
		"data": hexutil.Encode(data),
	})
	result, err := a.client.Execute(ctx, op)
	if err != nil {
		return 0, fmt.Errorf("eth_estimateGas failed: %w", err)
	}
	est, err := chain.HexBig(chain.String(result))
	if err != nil {
		return 0, err
	}
	gas := est.Uint64()
	return gas + gas*gasHeadroomPercent/100, nil
}

// TxHash decodes a signed transaction and returns its hash.
func (a *EVMAdapter) TxHash(signed []byte) (string, error) {
	var tx types.Transaction
	if err := tx.UnmarshalBinary(signed); err != nil {
		return "", fmt.Errorf("decode signed transaction: %w", err)
	}
	return tx.Hash().Hex(), nil
}

func (a *EVMAdapter) Broadcast(ctx context.Context, signed []byte) (string, error) {
	op := provider.NewJSONRPCOperation("eth_sendRawTransaction", hexutil.Encode(signed))
	result, err := a.client.Execute(ctx, op)
	if err != nil {
		if err = chain.BroadcastError(err, duplicateTxMessages...); err == nil {
			return a.TxHash(signed)
		}
		return "", fmt.Errorf("eth_sendRawTransaction failed: %w", err)
	}
	hash := chain.String(result)
	if hash == "" {
		return "", errors.New("eth_sendRawTransaction returned no hash")
	}
	return hash, nil
}

func (a *EVMAdapter) TransactionStatus(ctx context.Context, txHash string) (domain.TxStatus, error) {
	op := provider.NewJSONRPCOperation("eth_getTransactionReceipt", txHash)
	result, err := a.client.Execute(ctx, op)
	if err != nil {
		return "", fmt.Errorf("eth_getTransactionReceipt failed: %w", err)
	}

	if result == nil {
		// No receipt yet: still in the mempool or dropped
		result, err = a.client.Execute(ctx, provider.NewJSONRPCOperation("eth_getTransactionByHash", txHash))
		if err != nil {
			return "", fmt.Errorf("eth_getTransactionByHash failed: %w", err)
		}
		if result == nil {
			return domain.TxStatusNotFound, nil
		}
		return domain.TxStatusPending, nil
	}

	receipt, err := chain.Object(result)
	if err != nil {
		return "", err
	}
	if chain.String(receipt["status"]) == "0x0" {
		return domain.TxStatusFailed, nil
	}

	if a.confirmations > 1 {
		included, err := chain.HexBig(chain.String(receipt["blockNumber"]))
		if err != nil {
			return "", err
		}
		head, err := a.latestBlock(ctx)
		if err != nil {
			return "", err
		}
		if head < included.Uint64()+a.confirmations-1 {
			return domain.TxStatusPending, nil
		}
	}
	return domain.TxStatusConfirmed, nil
}

func (a *EVMAdapter) latestBlock(ctx context.Context) (uint64, error) {
	result, err := a.client.Execute(ctx, provider.NewJSONRPCOperation("eth_blockNumber"))
	if err != nil {
		return 0, fmt.Errorf("eth_blockNumber failed: %w", err)
	}
	n, err := chain.HexBig(chain.String(result))
	if err != nil {
		return 0, err
	}
	return n.Uint64(), nil
}
