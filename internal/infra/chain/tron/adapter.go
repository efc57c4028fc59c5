package tron

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	logger "log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/sweepwatch/internal/core/domain"
	"github.com/vietddude/sweepwatch/internal/infra/chain"
	"github.com/vietddude/sweepwatch/internal/infra/rpc/provider"
)

const (
	// DefaultNativeFeeReserve covers bandwidth for a TRX transfer when the
	// account has no free bandwidth left, in sun.
	DefaultNativeFeeReserve = 1_100_000
	// DefaultTokenFeeLimit caps energy spent by a TRC20 transfer, in sun.
	DefaultTokenFeeLimit = 30_000_000
)

var NativeAsset = domain.Asset{Symbol: "TRX", Decimals: 6}

// broadcasttransaction code for a transaction the node already has
const dupTransactionCode = "DUP_TRANSACTION_ERROR"

type TronAdapter struct {
	client           chain.Client
	nativeFeeReserve *big.Int
	tokenFeeLimit    int64
	log              *logger.Logger
}

func NewTronAdapter(client chain.Client, nativeFeeReserve, tokenFeeLimit int64) *TronAdapter {
	if nativeFeeReserve <= 0 {
		nativeFeeReserve = DefaultNativeFeeReserve
	}
	if tokenFeeLimit <= 0 {
		tokenFeeLimit = DefaultTokenFeeLimit
	}
	return &TronAdapter{
		client:           client,
		nativeFeeReserve: big.NewInt(nativeFeeReserve),
		tokenFeeLimit:    tokenFeeLimit,
		log:              logger.Default().With("component", "tron"),
	}
}

func (a *TronAdapter) Family() domain.ChainFamily {
	return domain.ChainFamilyTron
}

func (a *TronAdapter) NativeAsset() domain.Asset {
	return NativeAsset
}

func (a *TronAdapter) ValidateAddress(address string) error {
	_, err := DecodeAddress(address)
	return err
}

func (a *TronAdapter) call(ctx context.Context, path string, body map[string]any) (map[string]any, error) {
	result, err := a.client.Execute(ctx, provider.NewRESTOperation(path, body))
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", path, err)
	}
	obj, err := chain.Object(result)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if msg := chain.String(obj["Error"]); msg != "" {
		return nil, fmt.Errorf("%s: %s", path, msg)
	}
	return obj, nil
}

func (a *TronAdapter) Balance(
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

func (a *TronAdapter) nativeBalance(ctx context.Context, address string) (*big.Int, error) {
	account, err := a.call(ctx, "wallet/getaccount", map[string]any{
		"address": address,
		"visible": true,
	})
	if err != nil {
		return nil, err
	}
	// Accounts that were never activated come back as {} with no balance
	return chain.IntBig(account["balance"])
}

func (a *TronAdapter) tokenBalance(ctx context.Context, address, contract string) (*big.Int, error) {
	id, err := DecodeAddress(address)
	if err != nil {
		return nil, err
	}
	res, err := a.call(ctx, "wallet/triggerconstantcontract", map[string]any{
		"owner_address":     address,
		"contract_address":  contract,
		"function_selector": "balanceOf(address)",
		"parameter":         hex.EncodeToString(common.LeftPadBytes(id, 32)),
		"visible":           true,
	})
	if err != nil {
		return nil, err
	}
	if err := resultError(res); err != nil {
		return nil, fmt.Errorf("balanceOf: %w", err)
	}
	constant, _ := res["constant_result"].([]any)
	if len(constant) == 0 {
		return nil, errors.New("balanceOf returned no result")
	}
	return chain.HexBig(chain.String(constant[0]))
}

func (a *TronAdapter) BuildTransfer(
	ctx context.Context,
	from, to string,
	asset domain.Asset,
	amount *big.Int,
	reserved *big.Int,
) (*chain.Transfer, error) {
	if err := a.ValidateAddress(from); err != nil {
		return nil, err
	}
	toID, err := DecodeAddress(to)
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, errors.New("nothing to transfer")
	}

	latest, err := a.nativeBalance(ctx, from)
	if err != nil {
		return nil, err
	}
	nativeBal := chain.Available(latest, reserved)

	var (
		tx    map[string]any
		moved *big.Int
		fee   *big.Int
	)

	if asset.IsNative() {
		spendable := amount
		if nativeBal.Cmp(spendable) < 0 {
			spendable = nativeBal
		}
		if spendable.Cmp(a.nativeFeeReserve) <= 0 {
			return nil, fmt.Errorf("%w: balance %s, reserve %s", chain.ErrInsufficientFundsForFee, spendable, a.nativeFeeReserve)
		}
		moved = new(big.Int).Sub(spendable, a.nativeFeeReserve)
		fee = new(big.Int).Set(a.nativeFeeReserve)
		if !moved.IsInt64() {
			return nil, fmt.Errorf("amount %s overflows", moved)
		}

		tx, err = a.call(ctx, "wallet/createtransaction", map[string]any{
			"owner_address": from,
			"to_address":    to,
			"amount":        moved.Int64(),
			"visible":       true,
		})
		if err != nil {
			return nil, err
		}
	} else {
		fee = big.NewInt(a.tokenFeeLimit)
		if nativeBal.Cmp(fee) < 0 {
			return nil, fmt.Errorf("%w: native balance %s, fee limit %s", chain.ErrInsufficientFundsForFee, nativeBal, fee)
		}
		moved = new(big.Int).Set(amount)

		param := append(common.LeftPadBytes(toID, 32), common.LeftPadBytes(amount.Bytes(), 32)...)
		res, err := a.call(ctx, "wallet/triggersmartcontract", map[string]any{
			"owner_address":     from,
			"contract_address":  asset.Contract,
			"function_selector": "transfer(address,uint256)",
			"parameter":         hex.EncodeToString(param),
			"fee_limit":         a.tokenFeeLimit,
			"call_value":        0,
			"visible":           true,
		})
		if err != nil {
			return nil, err
		}
		if err := resultError(res); err != nil {
			return nil, fmt.Errorf("triggersmartcontract: %w", err)
		}
		tx, _ = res["transaction"].(map[string]any)
	}

	if tx == nil || chain.String(tx["txID"]) == "" {
		return nil, errors.New("node returned no transaction")
	}
	unsigned, err := hex.DecodeString(chain.String(tx["raw_data_hex"]))
	if err != nil {
		return nil, fmt.Errorf("invalid raw_data_hex: %w", err)
	}

	return &chain.Transfer{
		ChainFamily: domain.ChainFamilyTron,
		From:        from,
		To:          to,
		Asset:       asset,
		Amount:      moved,
		Fee:         fee,
		Unsigned:    unsigned,
		Payload:     tx,
	}, nil
}

// TxHash returns the txID of a signed transaction in the node's JSON form after
// checking it against raw_data_hex.
func (a *TronAdapter) TxHash(signed []byte) (string, error) {
	var tx struct {
		TxID       string `json:"txID"`
		RawDataHex string `json:"raw_data_hex"`
	}
	if err := json.Unmarshal(signed, &tx); err != nil {
		return "", fmt.Errorf("decode signed transaction: %w", err)
	}
	raw, err := hex.DecodeString(tx.RawDataHex)
	if err != nil {
		return "", fmt.Errorf("invalid raw_data_hex: %w", err)
	}
	digest := sha256.Sum256(raw)
	if !strings.EqualFold(hex.EncodeToString(digest[:]), tx.TxID) {
		return "", errors.New("txID does not match raw_data_hex")
	}
	return strings.ToLower(tx.TxID), nil
}

// Broadcast submits a signed transaction in the node's JSON form.
func (a *TronAdapter) Broadcast(ctx context.Context, signed []byte) (string, error) {
	res, err := a.client.Execute(ctx, provider.NewRESTOperation("wallet/broadcasttransaction", json.RawMessage(signed)))
	if err != nil {
		return "", fmt.Errorf("wallet/broadcasttransaction failed: %w", err)
	}
	obj, err := chain.Object(res)
	if err != nil {
		return "", err
	}
	if ok, _ := obj["result"].(bool); !ok {
		code := chain.String(obj["code"])
		if code == dupTransactionCode {
			return a.TxHash(signed)
		}
		return "", fmt.Errorf("%w: %s: %s", chain.ErrBroadcastRejected, code, decodeMessage(obj["message"]))
	}
	txid := chain.String(obj["txid"])
	if txid == "" {
		return "", errors.New("broadcast returned no txid")
	}
	return txid, nil
}

func (a *TronAdapter) TransactionStatus(ctx context.Context, txHash string) (domain.TxStatus, error) {
	info, err := a.call(ctx, "wallet/gettransactioninfobyid", map[string]any{"value": txHash})
	if err != nil {
		return "", err
	}

	if len(info) == 0 {
		tx, err := a.call(ctx, "wallet/gettransactionbyid", map[string]any{"value": txHash})
		if err != nil {
			return "", err
		}
		if len(tx) == 0 {
			return domain.TxStatusNotFound, nil
		}
		return domain.TxStatusPending, nil
	}

	if chain.String(info["result"]) == "FAILED" {
		return domain.TxStatusFailed, nil
	}
	if receipt, ok := info["receipt"].(map[string]any); ok {
		if r := chain.String(receipt["result"]); r != "" && r != "SUCCESS" {
			return domain.TxStatusFailed, nil
		}
	}
	if info["blockNumber"] == nil {
		return domain.TxStatusPending, nil
	}
	return domain.TxStatusConfirmed, nil
}

// resultError reads the {"result":{"result":bool,"code","message"}} envelope of contract calls.
func resultError(res map[string]any) error {
	r, ok := res["result"].(map[string]any)
	if !ok {
		return nil
	}
	if okVal, _ := r["result"].(bool); okVal {
		return nil
	}
	return fmt.Errorf("%s: %s", chain.String(r["code"]), decodeMessage(r["message"]))
}

// Node error messages are hex-encoded text.
func decodeMessage(v any) string {
	s := chain.String(v)
	if b, err := hex.DecodeString(s); err == nil {
		return string(b)
	}
	return s
}
