package bitcoin

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/vietddude/sweepwatch/internal/core/domain"
	"github.com/vietddude/sweepwatch/internal/infra/chain"
	"github.com/vietddude/sweepwatch/internal/infra/rpc/provider"
)

// MockRPCClient implements chain.Client for testing
type MockRPCClient struct {
	CallFunc func(method string, params []any) (any, error)
}

func (m *MockRPCClient) Execute(_ context.Context, op provider.Operation) (any, error) {
	if op.JSONRPCVersion != "1.0" {
		return nil, errors.New("bitcoind expects JSON-RPC 1.0")
	}
	params, _ := op.Params.([]any)
	return m.CallFunc(op.Name, params)
}

var regtest = &chaincfg.RegressionNetParams

func newWallet(t *testing.T) (*btcec.PrivateKey, string, []byte) {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(priv.PubKey().SerializeCompressed()), regtest,
	)
	if err != nil {
		t.Fatal(err)
	}
	script, _ := txscript.PayToAddrScript(addr)
	return priv, addr.EncodeAddress(), script
}

func scanResult(script []byte) map[string]any {
	return map[string]any{
		"success":      true,
		"total_amount": json.Number("0.00150000"),
		"unspents": []any{
			map[string]any{
				"txid":         strings.Repeat("aa", 32),
				"vout":         json.Number("0"),
				"scriptPubKey": hex.EncodeToString(script),
				"amount":       json.Number("0.00100000"),
			},
			map[string]any{
				"txid":         strings.Repeat("bb", 32),
				"vout":         json.Number("1"),
				"scriptPubKey": hex.EncodeToString(script),
				"amount":       json.Number("0.00050000"),
			},
		},
	}
}

func TestBitcoinAdapter_Balance(t *testing.T) {
	_, addr, script := newWallet(t)
	mock := &MockRPCClient{CallFunc: func(method string, params []any) (any, error) {
		if method != "scantxoutset" {
			t.Fatalf("unexpected method %s", method)
		}
		descs := params[1].([]string)
		if descs[0] != "addr("+addr+")" {
			t.Errorf("unexpected descriptor %v", descs)
		}
		return scanResult(script), nil
	}}

	adapter := NewBitcoinAdapter(mock, regtest, 1, 1)
	bal, err := adapter.Balance(context.Background(), addr, NativeAsset)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bal.Int64() != 150000 {
		t.Errorf("expected 150000 sat, got %s", bal)
	}
}

func TestBitcoinAdapter_RejectsTokensAndForeignAddresses(t *testing.T) {
	adapter := NewBitcoinAdapter(&MockRPCClient{}, regtest, 1, 1)

	_, err := adapter.Balance(context.Background(), "bcrt1qanything", domain.Asset{Symbol: "USDT", Contract: "x"})
	if !errors.Is(err, chain.ErrUnsupportedAsset) {
		t.Errorf("expected ErrUnsupportedAsset, got %v", err)
	}

	// mainnet address on a regtest adapter
	if err := adapter.ValidateAddress("bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq"); !errors.Is(err, chain.ErrInvalidAddress) {
		t.Errorf("expected ErrInvalidAddress, got %v", err)
	}
}

func TestBtcToSatoshi(t *testing.T) {
	tests := []struct {
		in   any
		want string
		err  bool
	}{
		{json.Number("0.12345678"), "12345678", false},
		{json.Number("21000000"), "2100000000000000", false},
		{json.Number("0.1"), "10000000", false},
		{nil, "0", false},
		{json.Number("0.000000001"), "", true},
	}
	for _, tt := range tests {
		got, err := btcToSatoshi(tt.in)
		if tt.err {
			if err == nil {
				t.Errorf("btcToSatoshi(%v): expected error", tt.in)
			}
			continue
		}
		if err != nil || got.String() != tt.want {
			t.Errorf("btcToSatoshi(%v) = %v, %v; want %s", tt.in, got, err, tt.want)
		}
	}
}

func sweepMock(script []byte, feeRate any) *MockRPCClient {
	return &MockRPCClient{CallFunc: func(method string, params []any) (any, error) {
		switch method {
		case "scantxoutset":
			return scanResult(script), nil
		case "estimatesmartfee":
			if feeRate == nil {
				return map[string]any{"errors": []any{"Insufficient data"}, "blocks": json.Number("0")}, nil
			}
			return map[string]any{"feerate": feeRate, "blocks": json.Number("6")}, nil
		}
		return nil, nil
	}}
}

func TestBitcoinAdapter_BuildAndSignTransfer(t *testing.T) {
	priv, from, script := newWallet(t)
	_, to, _ := newWallet(t)

	// 0.00002 BTC/kvB = 2 sat/vB
	adapter := NewBitcoinAdapter(sweepMock(script, json.Number("0.00002")), regtest, 1, 1)
	transfer, err := adapter.BuildTransfer(context.Background(), from, to, NativeAsset, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 11 overhead + 2*68 inputs + 31 p2wpkh output = 178 vB
	if transfer.Fee.Int64() != 356 {
		t.Errorf("expected fee 356, got %s", transfer.Fee)
	}
	if transfer.Amount.Int64() != 150000-356 {
		t.Errorf("expected amount %d, got %s", 150000-356, transfer.Amount)
	}

	raw, err := SignTransfer(transfer, priv.ToECDSA(), regtest)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	signed := wire.NewMsgTx(wire.TxVersion)
	if err := signed.Deserialize(bytes.NewReader(raw)); err != nil {
		t.Fatalf("decode signed tx: %v", err)
	}
	payload := transfer.Payload.(*UnsignedTx)
	prevOuts := make(map[wire.OutPoint]*wire.TxOut)
	for i, in := range signed.TxIn {
		prevOuts[in.PreviousOutPoint] = payload.PrevOuts[i]
	}
	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	sigHashes := txscript.NewTxSigHashes(signed, fetcher)
	for i, prev := range payload.PrevOuts {
		vm, err := txscript.NewEngine(
			prev.PkScript, signed, i, txscript.StandardVerifyFlags, nil, sigHashes, prev.Value, fetcher,
		)
		if err != nil {
			t.Fatalf("engine for input %d: %v", i, err)
		}
		if err := vm.Execute(); err != nil {
			t.Errorf("input %d does not verify: %v", i, err)
		}
	}
}

func TestBitcoinAdapter_SignWithForeignKey(t *testing.T) {
	_, from, script := newWallet(t)
	other, to, _ := newWallet(t)

	adapter := NewBitcoinAdapter(sweepMock(script, json.Number("0.00002")), regtest, 1, 1)
	transfer, err := adapter.BuildTransfer(context.Background(), from, to, NativeAsset, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := SignTransfer(transfer, other.ToECDSA(), regtest); err == nil {
		t.Fatal("expected error signing with a key that does not own the inputs")
	}
}

func TestBitcoinAdapter_BuildTransferFallbackFeeAndDust(t *testing.T) {
	_, from, script := newWallet(t)
	_, to, _ := newWallet(t)

	// No estimate: 1000 sat/vB fallback makes the fee eat the whole balance
	adapter := NewBitcoinAdapter(sweepMock(script, nil), regtest, 1, 1000)
	_, err := adapter.BuildTransfer(context.Background(), from, to, NativeAsset, nil, nil)
	if !errors.Is(err, chain.ErrInsufficientFundsForFee) {
		t.Fatalf("expected ErrInsufficientFundsForFee, got %v", err)
	}
}

func TestBitcoinAdapter_TransactionStatus(t *testing.T) {
	tests := []struct {
		name   string
		result any
		err    error
		want   domain.TxStatus
	}{
		{"mempool", map[string]any{"txid": "x"}, nil, domain.TxStatusPending},
		{"shallow", map[string]any{"confirmations": json.Number("1")}, nil, domain.TxStatusPending},
		{"deep", map[string]any{"confirmations": json.Number("3")}, nil, domain.TxStatusConfirmed},
		{"unknown", nil, &provider.RPCError{Code: -5, Message: "No such mempool or blockchain transaction"}, domain.TxStatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &MockRPCClient{CallFunc: func(method string, params []any) (any, error) {
				if method != "getrawtransaction" || params[1] != true {
					t.Fatalf("unexpected call %s %v", method, params)
				}
				return tt.result, tt.err
			}}
			adapter := NewBitcoinAdapter(mock, regtest, 2, 1)
			got, err := adapter.TransactionStatus(context.Background(), "txid")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestBitcoinAdapter_Broadcast(t *testing.T) {
	mock := &MockRPCClient{CallFunc: func(method string, params []any) (any, error) {
		if method != "sendrawtransaction" || params[0] != "0a0b" {
			t.Fatalf("unexpected call %s %v", method, params)
		}
		return "txid123", nil
	}}
	adapter := NewBitcoinAdapter(mock, regtest, 1, 1)
	txid, err := adapter.Broadcast(context.Background(), []byte{0x0a, 0x0b})
	if err != nil || txid != "txid123" {
		t.Fatalf("Broadcast = %q, %v", txid, err)
	}
}

func TestBitcoinAdapter_BroadcastDuplicate(t *testing.T) {
	_, _, script := newWallet(t)
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{1}, 0), nil, nil))
	tx.AddTxOut(wire.NewTxOut(10_000, script))
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		t.Fatalf("serialize: %v", err)
	}

	tests := []struct {
		name     string
		err      error
		rejected bool
	}{
		{"in mempool", &provider.RPCError{Code: -26, Message: "txn-already-in-mempool"}, false},
		{"mined", &provider.RPCError{Code: -27, Message: "Transaction already in block chain"}, false},
		{"spent inputs", &provider.RPCError{Code: -25, Message: "bad-txns-inputs-missingorspent"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &MockRPCClient{CallFunc: func(string, []any) (any, error) {
				return nil, tt.err
			}}
			adapter := NewBitcoinAdapter(mock, regtest, 1, 1)
			txid, err := adapter.Broadcast(context.Background(), buf.Bytes())
			if tt.rejected {
				if !errors.Is(err, chain.ErrBroadcastRejected) {
					t.Fatalf("expected ErrBroadcastRejected, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if txid != tx.TxHash().String() {
				t.Errorf("expected local txid %s, got %s", tx.TxHash(), txid)
			}
		})
	}
}
