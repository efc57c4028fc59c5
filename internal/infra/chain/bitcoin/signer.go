package bitcoin

import (
	"bytes"
	"crypto/ecdsa"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/vietddude/sweepwatch/internal/infra/chain"
)

// SignTransfer signs every input of a UTXO transfer. Inputs must be P2WPKH or
// P2PKH outputs controlled by key.
func SignTransfer(t *chain.Transfer, key *ecdsa.PrivateKey, params *chaincfg.Params) ([]byte, error) {
	payload, ok := t.Payload.(*UnsignedTx)
	if !ok {
		return nil, fmt.Errorf("unexpected utxo payload %T", t.Payload)
	}
	priv, pub := btcec.PrivKeyFromBytes(key.D.FillBytes(make([]byte, 32)))
	pubHash := btcutil.Hash160(pub.SerializeCompressed())

	tx := payload.Tx.Copy()
	if len(payload.PrevOuts) != len(tx.TxIn) {
		return nil, fmt.Errorf("have %d prevouts for %d inputs", len(payload.PrevOuts), len(tx.TxIn))
	}
	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(tx.TxIn))
	for i, in := range tx.TxIn {
		prevOuts[in.PreviousOutPoint] = payload.PrevOuts[i]
	}
	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	for i, prev := range payload.PrevOuts {
		switch txscript.GetScriptClass(prev.PkScript) {
		case txscript.WitnessV0PubKeyHashTy:
			if err := checkOwner(prev.PkScript, pubHash, true, params); err != nil {
				return nil, err
			}
			witness, err := txscript.WitnessSignature(
				tx, sigHashes, i, prev.Value, prev.PkScript, txscript.SigHashAll, priv, true,
			)
			if err != nil {
				return nil, fmt.Errorf("sign input %d: %w", i, err)
			}
			tx.TxIn[i].Witness = witness
		case txscript.PubKeyHashTy:
			if err := checkOwner(prev.PkScript, pubHash, false, params); err != nil {
				return nil, err
			}
			script, err := txscript.SignatureScript(tx, i, prev.PkScript, txscript.SigHashAll, priv, true)
			if err != nil {
				return nil, fmt.Errorf("sign input %d: %w", i, err)
			}
			tx.TxIn[i].SignatureScript = script
		default:
			return nil, fmt.Errorf("input %d: unsupported script class", i)
		}
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func checkOwner(pkScript, pubHash []byte, witness bool, params *chaincfg.Params) error {
	var (
		want btcutil.Address
		err  error
	)
	if witness {
		want, err = btcutil.NewAddressWitnessPubKeyHash(pubHash, params)
	} else {
		want, err = btcutil.NewAddressPubKeyHash(pubHash, params)
	}
	if err != nil {
		return err
	}
	script, err := txscript.PayToAddrScript(want)
	if err != nil {
		return err
	}
	if !bytes.Equal(script, pkScript) {
		return fmt.Errorf("key for %s does not control input script", want.EncodeAddress())
	}
	return nil
}
