package bitcoin

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	logger "log/slog"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/shopspring/decimal"

	"github.com/vietddude/sweepwatch/internal/core/domain"
	"github.com/vietddude/sweepwatch/internal/infra/chain"
	"github.com/vietddude/sweepwatch/internal/infra/rpc/provider"
)

const (
	// DustLimit is the smallest output bitcoind relays for standard scripts.
	DustLimit = 546
	// FeeConfTarget is the confirmation target passed to estimatesmartfee.
	FeeConfTarget = 6

	txOverheadVBytes = 11
	p2wpkhInVBytes   = 68
	p2pkhInVBytes    = 148

	// bitcoind's "No such mempool or blockchain transaction"
	rpcInvalidAddressOrKey = -5
)

var NativeAsset = domain.Asset{Symbol: "BTC", Decimals: 8}

// sendrawtransaction replies for a transaction the node already has.
var duplicateTxMessages = []string{
	"txn-already-in-mempool",
	"txn-already-known",
	"already in block chain",
	"outputs already in utxo set",
}

// UnsignedTx is the payload of a UTXO transfer: the transaction plus the
// outputs it spends, which are needed for signature hashes.
type UnsignedTx struct {
	Tx       *wire.MsgTx
	PrevOuts []*wire.TxOut
}

type utxo struct {
	txid     string
	vout     uint32
	amount   int64
	pkScript []byte
}

type BitcoinAdapter struct {
	client        chain.Client
	params        *chaincfg.Params
	confirmations uint64
	// fallbackFeeRate is used when the node has no fee estimate, in sat/vB.
	fallbackFeeRate int64
	log             *logger.Logger
}

func NewBitcoinAdapter(
	client chain.Client,
	params *chaincfg.Params,
	confirmations uint64,
	fallbackFeeRate int64,
) *BitcoinAdapter {
	if fallbackFeeRate <= 0 {
		fallbackFeeRate = 1
	}
	return &BitcoinAdapter{
		client:          client,
		params:          params,
		confirmations:   confirmations,
		fallbackFeeRate: fallbackFeeRate,
		log:             logger.Default().With("component", "bitcoin"),
	}
}

// NetworkParams resolves a network name to chain parameters.
func NetworkParams(network string) (*chaincfg.Params, error) {
	switch network {
	case "", "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unknown bitcoin network %q", network)
	}
}

func (a *BitcoinAdapter) Family() domain.ChainFamily {
	return domain.ChainFamilyUTXO
}

func (a *BitcoinAdapter) NativeAsset() domain.Asset {
	return NativeAsset
}

// Params returns the network parameters addresses are checked against.
func (a *BitcoinAdapter) Params() *chaincfg.Params {
	return a.params
}

func (a *BitcoinAdapter) ValidateAddress(address string) error {
	_, err := a.decodeAddress(address)
	return err
}

func (a *BitcoinAdapter) decodeAddress(address string) (btcutil.Address, error) {
	addr, err := btcutil.DecodeAddress(address, a.params)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", chain.ErrInvalidAddress, address, err)
	}
	if !addr.IsForNet(a.params) {
		return nil, fmt.Errorf("%w: %q is not a %s address", chain.ErrInvalidAddress, address, a.params.Name)
	}
	return addr, nil
}

func (a *BitcoinAdapter) Balance(
	ctx context.Context,
	address string,
	asset domain.Asset,
) (*big.Int, error) {
	if !asset.IsNative() {
		return nil, fmt.Errorf("%w: %s on utxo", chain.ErrUnsupportedAsset, asset)
	}
	if err := a.ValidateAddress(address); err != nil {
		return nil, err
	}

	result, err := a.scan(ctx, address)
	if err != nil {
		return nil, err
	}
	return btcToSatoshi(result["total_amount"])
}

func (a *BitcoinAdapter) scan(ctx context.Context, address string) (map[string]any, error) {
	op := provider.NewJSONRPC10Operation("scantxoutset", "start", []string{"addr(" + address + ")"})
	result, err := a.client.Execute(ctx, op)
	if err != nil {
		return nil, fmt.Errorf("scantxoutset failed: %w", err)
	}
	scan, err := chain.Object(result)
	if err != nil {
		return nil, err
	}
	if ok, _ := scan["success"].(bool); !ok {
		return nil, errors.New("scantxoutset did not complete")
	}
	return scan, nil
}

func (a *BitcoinAdapter) unspents(ctx context.Context, address string) ([]utxo, error) {
	scan, err := a.scan(ctx, address)
	if err != nil {
		return nil, err
	}
	raw, _ := scan["unspents"].([]any)

	out := make([]utxo, 0, len(raw))
	for i, item := range raw {
		u, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("invalid unspent at index %d", i)
		}
		sats, err := btcToSatoshi(u["amount"])
		if err != nil {
			return nil, err
		}
		script, err := hex.DecodeString(chain.String(u["scriptPubKey"]))
		if err != nil {
			return nil, fmt.Errorf("invalid scriptPubKey: %w", err)
		}
		vout, err := chain.IntBig(u["vout"])
		if err != nil {
			return nil, err
		}
		out = append(out, utxo{
			txid:     chain.String(u["txid"]),
			vout:     uint32(vout.Uint64()),
			amount:   sats.Int64(),
			pkScript: script,
		})
	}
	return out, nil
}

// BuildTransfer spends every unspent output of from into a single output to to.
// The fee is deducted from the swept amount. There is no separate fee asset, so
// reserved does not apply.
func (a *BitcoinAdapter) BuildTransfer(
	ctx context.Context,
	from, to string,
	asset domain.Asset,
	amount *big.Int,
	_ *big.Int,
) (*chain.Transfer, error) {
	if !asset.IsNative() {
		return nil, fmt.Errorf("%w: %s on utxo", chain.ErrUnsupportedAsset, asset)
	}
	fromAddr, err := a.decodeAddress(from)
	if err != nil {
		return nil, err
	}
	toAddr, err := a.decodeAddress(to)
	if err != nil {
		return nil, err
	}
	outScript, err := txscript.PayToAddrScript(toAddr)
	if err != nil {
		return nil, fmt.Errorf("destination script: %w", err)
	}

	utxos, err := a.unspents(ctx, from)
	if err != nil {
		return nil, err
	}
	if len(utxos) == 0 {
		return nil, fmt.Errorf("%w: no unspent outputs", chain.ErrInsufficientFundsForFee)
	}

	feeRate, err := a.feeRate(ctx)
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	prevOuts := make([]*wire.TxOut, 0, len(utxos))
	var total int64
	for _, u := range utxos {
		hash, err := chainhash.NewHashFromStr(u.txid)
		if err != nil {
			return nil, fmt.Errorf("invalid txid %q: %w", u.txid, err)
		}
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, u.vout), nil, nil))
		prevOuts = append(prevOuts, wire.NewTxOut(u.amount, u.pkScript))
		total += u.amount
	}

	vsize := estimateVSize(fromAddr, len(utxos), len(outScript))
	fee := vsize * feeRate
	value := total - fee
	if value < DustLimit {
		return nil, fmt.Errorf("%w: balance %d sat, fee %d sat", chain.ErrInsufficientFundsForFee, total, fee)
	}
	tx.AddTxOut(wire.NewTxOut(value, outScript))

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("serialize transaction: %w", err)
	}

	return &chain.Transfer{
		ChainFamily: domain.ChainFamilyUTXO,
		From:        from,
		To:          to,
		Asset:       asset,
		Amount:      big.NewInt(value),
		Fee:         big.NewInt(fee),
		Unsigned:    buf.Bytes(),
		Payload:     &UnsignedTx{Tx: tx, PrevOuts: prevOuts},
	}, nil
}

// feeRate returns the estimated fee rate in sat/vB.
func (a *BitcoinAdapter) feeRate(ctx context.Context) (int64, error) {
	result, err := a.client.Execute(ctx, provider.NewJSONRPC10Operation("estimatesmartfee", FeeConfTarget))
	if err != nil {
		return 0, fmt.Errorf("estimatesmartfee failed: %w", err)
	}
	est, err := chain.Object(result)
	if err != nil {
		return 0, err
	}
	num, ok := est["feerate"].(json.Number)
	if !ok {
		a.log.Warn("No fee estimate available, using fallback", "sat_per_vb", a.fallbackFeeRate)
		return a.fallbackFeeRate, nil
	}
	perKvB, err := decimal.NewFromString(num.String())
	if err != nil {
		return 0, fmt.Errorf("invalid feerate %q: %w", num, err)
	}
	// BTC/kvB -> sat/vB
	rate := perKvB.Shift(8).Div(decimal.NewFromInt(1000)).Ceil().IntPart()
	if rate < 1 {
		rate = 1
	}
	return rate, nil
}

func estimateVSize(from btcutil.Address, inputs, outScriptLen int) int64 {
	in := p2wpkhInVBytes
	if _, legacy := from.(*btcutil.AddressPubKeyHash); legacy {
		in = p2pkhInVBytes
	}
	// value + script length prefix + script
	out := 8 + 1 + outScriptLen
	return int64(txOverheadVBytes + in*inputs + out)
}

// TxHash decodes a signed transaction and returns its txid.
func (a *BitcoinAdapter) TxHash(signed []byte) (string, error) {
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(signed)); err != nil {
		return "", fmt.Errorf("decode signed transaction: %w", err)
	}
	return tx.TxHash().String(), nil
}

func (a *BitcoinAdapter) Broadcast(ctx context.Context, signed []byte) (string, error) {
	op := provider.NewJSONRPC10Operation("sendrawtransaction", hex.EncodeToString(signed))
	result, err := a.client.Execute(ctx, op)
	if err != nil {
		if err = chain.BroadcastError(err, duplicateTxMessages...); err == nil {
			return a.TxHash(signed)
		}
		return "", fmt.Errorf("sendrawtransaction failed: %w", err)
	}
	txid := chain.String(result)
	if txid == "" {
		return "", errors.New("sendrawtransaction returned no txid")
	}
	return txid, nil
}

// TransactionStatus needs a node with txindex for transactions no longer in the mempool.
func (a *BitcoinAdapter) TransactionStatus(ctx context.Context, txHash string) (domain.TxStatus, error) {
	op := provider.NewJSONRPC10Operation("getrawtransaction", txHash, true)
	result, err := a.client.Execute(ctx, op)
	if err != nil {
		var rpcErr *provider.RPCError
		if errors.As(err, &rpcErr) && rpcErr.Code == rpcInvalidAddressOrKey {
			return domain.TxStatusNotFound, nil
		}
		return "", fmt.Errorf("getrawtransaction failed: %w", err)
	}
	tx, err := chain.Object(result)
	if err != nil {
		return "", err
	}
	confs, err := chain.IntBig(tx["confirmations"])
	if err != nil {
		return "", err
	}
	if confs.Sign() > 0 && confs.Uint64() >= a.confirmations {
		return domain.TxStatusConfirmed, nil
	}
	return domain.TxStatusPending, nil
}

// btcToSatoshi converts an exact decimal BTC amount to satoshis.
func btcToSatoshi(v any) (*big.Int, error) {
	var s string
	switch x := v.(type) {
	case nil:
		return new(big.Int), nil
	case json.Number:
		s = x.String()
	case string:
		s = x
	default:
		return nil, fmt.Errorf("unexpected amount type %T", v)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	sats := d.Shift(8)
	if !sats.Equal(sats.Truncate(0)) {
		return nil, fmt.Errorf("amount %q has sub-satoshi precision", s)
	}
	return sats.BigInt(), nil
}
