package tron

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/vietddude/sweepwatch/internal/core/domain"
	"github.com/vietddude/sweepwatch/internal/infra/chain"
	"github.com/vietddude/sweepwatch/internal/infra/rpc/provider"
)

// MockRPCClient implements chain.Client for testing
type MockRPCClient struct {
	CallFunc func(path string, body any) (any, error)
}

func (m *MockRPCClient) Execute(_ context.Context, op provider.Operation) (any, error) {
	if !op.IsREST {
		return nil, errors.New("tron expects REST operations")
	}
	return m.CallFunc(op.Name, op.Params)
}

const usdtContract = "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"

var usdt = domain.Asset{Symbol: "USDT", Contract: usdtContract, Decimals: 6}

func TestAddressRoundTrip(t *testing.T) {
	h, err := HexAddress(usdtContract)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h != "41a614f803b6fd780986a42c78ec9c7f77e6ded13c" {
		t.Errorf("unexpected hex address %s", h)
	}

	id, _ := hex.DecodeString(h[2:])
	if got := EncodeAddress(id); got != usdtContract {
		t.Errorf("expected %s, got %s", usdtContract, got)
	}

	for _, bad := range []string{"", "0xa614f803b6fd780986a42c78ec9c7f77e6ded13c", "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6T"} {
		if _, err := DecodeAddress(bad); !errors.Is(err, chain.ErrInvalidAddress) {
			t.Errorf("DecodeAddress(%q): expected ErrInvalidAddress, got %v", bad, err)
		}
	}
}

func TestTronAdapter_NativeBalance(t *testing.T) {
	mock := &MockRPCClient{CallFunc: func(path string, body any) (any, error) {
		if path != "wallet/getaccount" {
			t.Fatalf("unexpected path %s", path)
		}
		if body.(map[string]any)["address"] != usdtContract {
			t.Errorf("unexpected body %v", body)
		}
		return map[string]any{"balance": json.Number("25000000")}, nil
	}}

	adapter := NewTronAdapter(mock, 0, 0)
	bal, err := adapter.Balance(context.Background(), usdtContract, NativeAsset)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bal.Int64() != 25_000_000 {
		t.Errorf("expected 25 TRX in sun, got %s", bal)
	}
}

func TestTronAdapter_InactiveAccountHasZeroBalance(t *testing.T) {
	mock := &MockRPCClient{CallFunc: func(string, any) (any, error) {
		return map[string]any{}, nil
	}}
	bal, err := NewTronAdapter(mock, 0, 0).Balance(context.Background(), usdtContract, NativeAsset)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bal.Sign() != 0 {
		t.Errorf("expected zero, got %s", bal)
	}
}

func TestTronAdapter_TokenBalance(t *testing.T) {
	mock := &MockRPCClient{CallFunc: func(path string, body any) (any, error) {
		if path != "wallet/triggerconstantcontract" {
			t.Fatalf("unexpected path %s", path)
		}
		b := body.(map[string]any)
		if b["function_selector"] != "balanceOf(address)" {
			t.Errorf("unexpected selector %v", b["function_selector"])
		}
		param := b["parameter"].(string)
		if len(param) != 64 || !strings.HasSuffix(param, "a614f803b6fd780986a42c78ec9c7f77e6ded13c") {
			t.Errorf("unexpected parameter %s", param)
		}
		return map[string]any{
			"result":          map[string]any{"result": true},
			"constant_result": []any{"00000000000000000000000000000000000000000000000000000000000f4240"},
		}, nil
	}}

	bal, err := NewTronAdapter(mock, 0, 0).Balance(context.Background(), usdtContract, usdt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bal.Int64() != 1_000_000 {
		t.Errorf("expected 1 USDT raw, got %s", bal)
	}
}

func TestTronAdapter_BuildAndSignNativeTransfer(t *testing.T) {
	key, _ := crypto.GenerateKey()
	from := EncodeAddress(crypto.PubkeyToAddress(key.PublicKey).Bytes())

	raw := []byte{0x0a, 0x02, 0xab, 0xcd}
	txID := sha256.Sum256(raw)

	var created map[string]any
	mock := &MockRPCClient{CallFunc: func(path string, body any) (any, error) {
		switch path {
		case "wallet/getaccount":
			return map[string]any{"balance": json.Number("5000000")}, nil
		case "wallet/createtransaction":
			created = body.(map[string]any)
			return map[string]any{
				"txID":         hex.EncodeToString(txID[:]),
				"raw_data":     map[string]any{"expiration": json.Number("1700000000000")},
				"raw_data_hex": hex.EncodeToString(raw),
				"visible":      true,
			}, nil
		}
		t.Fatalf("unexpected path %s", path)
		return nil, nil
	}}

	adapter := NewTronAdapter(mock, 0, 0)
	transfer, err := adapter.BuildTransfer(context.Background(), from, usdtContract, NativeAsset, fiveTRX(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created["amount"] != int64(5_000_000-DefaultNativeFeeReserve) {
		t.Errorf("expected amount minus reserve, got %v", created["amount"])
	}
	if transfer.Amount.Int64() != 5_000_000-DefaultNativeFeeReserve {
		t.Errorf("unexpected transfer amount %s", transfer.Amount)
	}

	signed, err := SignTransfer(transfer, key)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	var out struct {
		TxID      string   `json:"txID"`
		Signature []string `json:"signature"`
	}
	if err := json.Unmarshal(signed, &out); err != nil {
		t.Fatalf("decode signed tx: %v", err)
	}
	if len(out.Signature) != 1 {
		t.Fatalf("expected one signature, got %d", len(out.Signature))
	}
	sig, _ := hex.DecodeString(out.Signature[0])
	pub, err := crypto.SigToPub(txID[:], sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if crypto.PubkeyToAddress(*pub) != crypto.PubkeyToAddress(key.PublicKey) {
		t.Error("signature does not recover the signing key")
	}
}

func TestTronAdapter_NativeTransferBelowReserve(t *testing.T) {
	mock := &MockRPCClient{CallFunc: func(path string, _ any) (any, error) {
		return map[string]any{"balance": json.Number("1000000")}, nil
	}}
	_, err := NewTronAdapter(mock, 0, 0).BuildTransfer(
		context.Background(), usdtContract, usdtContract, NativeAsset, fiveTRX(), nil,
	)
	if !errors.Is(err, chain.ErrInsufficientFundsForFee) {
		t.Fatalf("expected ErrInsufficientFundsForFee, got %v", err)
	}
}

func TestTronAdapter_TokenTransferNeedsFeeLimit(t *testing.T) {
	mock := &MockRPCClient{CallFunc: func(path string, _ any) (any, error) {
		if path == "wallet/getaccount" {
			return map[string]any{"balance": json.Number("1000000")}, nil
		}
		t.Fatalf("no contract call expected without fee budget, got %s", path)
		return nil, nil
	}}
	_, err := NewTronAdapter(mock, 0, 0).BuildTransfer(
		context.Background(), usdtContract, usdtContract, usdt, fiveTRX(), nil,
	)
	if !errors.Is(err, chain.ErrInsufficientFundsForFee) {
		t.Fatalf("expected ErrInsufficientFundsForFee, got %v", err)
	}
}

func TestTronAdapter_BroadcastRejected(t *testing.T) {
	mock := &MockRPCClient{CallFunc: func(path string, body any) (any, error) {
		if _, ok := body.(json.RawMessage); !ok {
			t.Errorf("expected signed JSON body, got %T", body)
		}
		return map[string]any{
			"code":    "SIGERROR",
			"message": hex.EncodeToString([]byte("validate signature error")),
		}, nil
	}}
	_, err := NewTronAdapter(mock, 0, 0).Broadcast(context.Background(), []byte(`{"txID":"ab"}`))
	if err == nil || !strings.Contains(err.Error(), "validate signature error") {
		t.Fatalf("expected decoded rejection message, got %v", err)
	}
	if !errors.Is(err, chain.ErrBroadcastRejected) {
		t.Errorf("expected ErrBroadcastRejected, got %v", err)
	}
}

func TestTronAdapter_BroadcastDuplicate(t *testing.T) {
	raw := []byte{0x0a, 0x02, 0xab, 0xcd}
	digest := sha256.Sum256(raw)
	txID := hex.EncodeToString(digest[:])
	signed, _ := json.Marshal(map[string]any{
		"txID":         txID,
		"raw_data_hex": hex.EncodeToString(raw),
		"signature":    []string{"00"},
	})

	mock := &MockRPCClient{CallFunc: func(string, any) (any, error) {
		return map[string]any{"code": "DUP_TRANSACTION_ERROR", "message": hex.EncodeToString([]byte("dup transaction"))}, nil
	}}
	adapter := NewTronAdapter(mock, 0, 0)
	got, err := adapter.Broadcast(context.Background(), signed)
	if err != nil {
		t.Fatalf("a node that already has the transaction is success, got %v", err)
	}
	if got != txID {
		t.Errorf("expected txID %s, got %s", txID, got)
	}

	tampered, _ := json.Marshal(map[string]any{"txID": txID, "raw_data_hex": "0a03"})
	if _, err := adapter.TxHash(tampered); err == nil {
		t.Error("expected txID mismatch to be rejected")
	}
}

func TestTronAdapter_NativeTransferKeepsReserved(t *testing.T) {
	var created map[string]any
	raw := []byte{0x01}
	digest := sha256.Sum256(raw)
	mock := &MockRPCClient{CallFunc: func(path string, body any) (any, error) {
		switch path {
		case "wallet/getaccount":
			return map[string]any{"balance": json.Number("50000000")}, nil
		case "wallet/createtransaction":
			created = body.(map[string]any)
			return map[string]any{"txID": hex.EncodeToString(digest[:]), "raw_data_hex": "01"}, nil
		}
		return nil, nil
	}}

	// a pending token sweep may burn up to its fee limit
	reserved := big.NewInt(DefaultTokenFeeLimit)
	transfer, err := NewTronAdapter(mock, 0, 0).BuildTransfer(
		context.Background(), usdtContract, usdtContract, NativeAsset, big.NewInt(50_000_000), reserved,
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := int64(50_000_000 - DefaultTokenFeeLimit - DefaultNativeFeeReserve)
	if created["amount"] != want || transfer.Amount.Int64() != want {
		t.Errorf("expected %d, got %v / %s", want, created["amount"], transfer.Amount)
	}
}

func TestTronAdapter_TransactionStatus(t *testing.T) {
	tests := []struct {
		name string
		info map[string]any
		tx   map[string]any
		want domain.TxStatus
	}{
		{"confirmed", map[string]any{"id": "x", "blockNumber": json.Number("10")}, nil, domain.TxStatusConfirmed},
		{"reverted", map[string]any{"id": "x", "blockNumber": json.Number("10"), "receipt": map[string]any{"result": "REVERT"}}, nil, domain.TxStatusFailed},
		{"failed", map[string]any{"id": "x", "result": "FAILED"}, nil, domain.TxStatusFailed},
		{"pending", map[string]any{}, map[string]any{"txID": "x"}, domain.TxStatusPending},
		{"unknown", map[string]any{}, map[string]any{}, domain.TxStatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &MockRPCClient{CallFunc: func(path string, _ any) (any, error) {
				if path == "wallet/gettransactioninfobyid" {
					return tt.info, nil
				}
				return tt.tx, nil
			}}
			got, err := NewTronAdapter(mock, 0, 0).TransactionStatus(context.Background(), "x")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func fiveTRX() *big.Int {
	return big.NewInt(5_000_000)
}
