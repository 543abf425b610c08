// Package txn turns transaction templates into btcd transactions, and computes
// the BIP-341 key spend digest the committee signs.
package txn

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/zkbitcoin/committee/internal/api"
	"github.com/zkbitcoin/committee/pkg/taproot"
)

// P2TRScript returns the key path only taproot script paying to pk.
//
// The group key is used as the output key directly, without a tweak, so that
// the committee signature spends it.
func P2TRScript(pk taproot.PublicKey) ([]byte, error) {
	if len(pk) != taproot.PublicKeyLength {
		return nil, fmt.Errorf("txn.P2TRScript: invalid key length %d", len(pk))
	}
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_1).
		AddData(pk).
		Script()
}

// P2TRAddress returns the bech32m address of P2TRScript(pk).
func P2TRAddress(pk taproot.PublicKey, params *chaincfg.Params) (string, error) {
	addr, err := btcutil.NewAddressTaproot(pk, params)
	if err != nil {
		return "", fmt.Errorf("txn.P2TRAddress: %w", err)
	}
	return addr.EncodeAddress(), nil
}

// AddressScript decodes an address for params and returns its output script.
func AddressScript(address string, params *chaincfg.Params) ([]byte, error) {
	addr, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return nil, fmt.Errorf("txn.AddressScript: %w", err)
	}
	if !addr.IsForNet(params) {
		return nil, fmt.Errorf("txn.AddressScript: %s is not for %s", address, params.Name)
	}
	return txscript.PayToAddrScript(addr)
}

// OutputScript returns the script of a template output, given either as an
// address or as a raw script.
func OutputScript(out *api.TxOut, params *chaincfg.Params) ([]byte, error) {
	switch {
	case out.Address != "" && out.ScriptHex != "":
		return nil, errors.New("txn.OutputScript: both address and script given")
	case out.Address != "":
		return AddressScript(out.Address, params)
	case out.ScriptHex != "":
		script, err := hex.DecodeString(out.ScriptHex)
		if err != nil {
			return nil, fmt.Errorf("txn.OutputScript: %w", err)
		}
		return script, nil
	default:
		return nil, errors.New("txn.OutputScript: no address nor script")
	}
}

// Build creates the unsigned transaction described by tmpl.
func Build(tmpl *api.TransactionTemplate, params *chaincfg.Params) (*wire.MsgTx, error) {
	tx := wire.NewMsgTx(tmpl.Version)
	tx.LockTime = tmpl.LockTime
	for i, in := range tmpl.Inputs {
		hash, err := chainhash.NewHashFromStr(in.TxID)
		if err != nil {
			return nil, fmt.Errorf("txn.Build: input %d: %w", i, err)
		}
		txIn := wire.NewTxIn(wire.NewOutPoint(hash, in.Vout), nil, nil)
		txIn.Sequence = in.Sequence
		tx.AddTxIn(txIn)
	}
	for i := range tmpl.Outputs {
		script, err := OutputScript(&tmpl.Outputs[i], params)
		if err != nil {
			return nil, fmt.Errorf("txn.Build: output %d: %w", i, err)
		}
		tx.AddTxOut(wire.NewTxOut(tmpl.Outputs[i].Value, script))
	}
	return tx, nil
}

// PrevOutFetcher collects the previous outputs of every input of tx.
//
// Input 0 spends deploymentOut. Every other input must declare its previous
// output in the template.
func PrevOutFetcher(tx *wire.MsgTx, deploymentOut *wire.TxOut, tmpl *api.TransactionTemplate, params *chaincfg.Params) (*txscript.MultiPrevOutFetcher, error) {
	if len(tx.TxIn) == 0 || len(tx.TxIn) != len(tmpl.Inputs) {
		return nil, errors.New("txn.PrevOutFetcher: template does not match transaction")
	}
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	fetcher.AddPrevOut(tx.TxIn[0].PreviousOutPoint, deploymentOut)
	for i := 1; i < len(tx.TxIn); i++ {
		prev := tmpl.Inputs[i].PrevOut
		if prev == nil {
			return nil, fmt.Errorf("txn.PrevOutFetcher: input %d has no previous output", i)
		}
		script, err := OutputScript(prev, params)
		if err != nil {
			return nil, fmt.Errorf("txn.PrevOutFetcher: input %d: %w", i, err)
		}
		fetcher.AddPrevOut(tx.TxIn[i].PreviousOutPoint, wire.NewTxOut(prev.Value, script))
	}
	return fetcher, nil
}

// Sighash computes the BIP-341 key spend digest of input 0 with SIGHASH_DEFAULT.
func Sighash(tx *wire.MsgTx, fetcher txscript.PrevOutputFetcher) ([]byte, error) {
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	digest, err := txscript.CalcTaprootSignatureHash(sigHashes, txscript.SigHashDefault, tx, 0, fetcher)
	if err != nil {
		return nil, fmt.Errorf("txn.Sighash: %w", err)
	}
	return digest, nil
}

// AttachSignature sets sig as the only witness item of input 0.
//
// With SIGHASH_DEFAULT the signature is the bare 64 bytes.
func AttachSignature(tx *wire.MsgTx, sig taproot.Signature) error {
	if len(sig) != taproot.SignatureLen {
		return fmt.Errorf("txn.AttachSignature: invalid signature length %d", len(sig))
	}
	tx.TxIn[0].Witness = wire.TxWitness{append([]byte(nil), sig...)}
	return nil
}

// Encode returns the hex of the serialized transaction, witness included.
func Encode(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", fmt.Errorf("txn.Encode: %w", err)
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

// Decode parses a hex encoded transaction.
func Decode(s string) (*wire.MsgTx, error) {
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("txn.Decode: %w", err)
	}
	tx := new(wire.MsgTx)
	if err = tx.Deserialize(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("txn.Decode: %w", err)
	}
	return tx, nil
}

// Params returns the chain parameters for a network name.
func Params(network string) (*chaincfg.Params, error) {
	switch network {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, api.Errorf(api.ErrConfiguration, "unknown network %q", network)
	}
}
