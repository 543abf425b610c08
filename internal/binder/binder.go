// Package binder checks that the public inputs of a proof authorize exactly
// the transaction the committee is asked to sign.
package binder

import (
	"bytes"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/zkbitcoin/committee/internal/api"
	"github.com/zkbitcoin/committee/internal/deployment"
	"github.com/zkbitcoin/committee/internal/txn"
	"github.com/zkbitcoin/committee/pkg/taproot"
)

// DefaultMaxFee is the largest fee, in satoshis, a stateless unlock may pay.
const DefaultMaxFee = 100_000

// Binder checks use requests against their deployment.
type Binder struct {
	Params *chaincfg.Params
	MaxFee int64
}

// New returns a Binder for the network params.
func New(params *chaincfg.Params, maxFee int64) *Binder {
	return &Binder{Params: params, MaxFee: maxFee}
}

func mismatch(format string, args ...interface{}) error {
	return api.Errorf(api.ErrBindingMismatch, format, args...)
}

// Check returns nil if req spends d the way its public inputs say.
//
// Any failure is an api.ErrBindingMismatch with the reason.
func (b *Binder) Check(d *deployment.Deployment, req *api.UseRequest, groupKey taproot.PublicKey) error {
	_, err := b.Bind(d, req, groupKey)
	return err
}

// Bind is like Check, and also returns the parsed public inputs and the
// unsigned transaction.
func (b *Binder) Bind(d *deployment.Deployment, req *api.UseRequest, groupKey taproot.PublicKey) (*Bound, error) {
	inputs, err := ParseInputs(d.Kind(), req.PublicInputs)
	if err != nil {
		return nil, mismatch("%v", err)
	}

	txid, err := chainhash.NewHashFromStr(req.TxID)
	if err != nil {
		return nil, mismatch("txid: %v", err)
	}
	if *txid != d.TxID || req.Vout != d.Vout {
		return nil, mismatch("request is for %s:%d, deployment is %s:%d", txid, req.Vout, d.TxID, d.Vout)
	}
	expected := TxIDElement(d.TxID)
	if got := inputs.TxIDElement(); !got.Equal(&expected) {
		return nil, mismatch("txid input does not match %s", d.TxID)
	}

	tx, err := txn.Build(&req.Template, b.Params)
	if err != nil {
		return nil, mismatch("%v", err)
	}
	if err = checkInputs(d, tx, &req.Template); err != nil {
		return nil, err
	}
	recipient, err := txn.AddressScript(req.Recipient, b.Params)
	if err != nil {
		return nil, mismatch("recipient: %v", err)
	}
	if !bytes.Equal(tx.TxOut[0].PkScript, recipient) {
		return nil, mismatch("output 0 does not pay the recipient")
	}

	switch in := inputs.(type) {
	case *Stateless:
		err = b.checkStateless(d, tx, &req.Template)
	case *Stateful:
		err = b.checkStateful(d, in, tx, &req.Template, groupKey)
	}
	if err != nil {
		return nil, err
	}
	return &Bound{Inputs: inputs, Tx: tx}, nil
}

// Bound is the result of a successful Bind.
type Bound struct {
	Inputs Inputs
	Tx     *wire.MsgTx
}

// checkInputs checks that input 0, and only input 0, spends the deployment.
func checkInputs(d *deployment.Deployment, tx *wire.MsgTx, tmpl *api.TransactionTemplate) error {
	outpoint := d.Outpoint()
	if tx.TxIn[0].PreviousOutPoint != outpoint {
		return mismatch("input 0 does not spend %s", outpoint)
	}
	for i := 1; i < len(tx.TxIn); i++ {
		if tx.TxIn[i].PreviousOutPoint == outpoint {
			return mismatch("input %d spends the deployment again", i)
		}
		if tmpl.Inputs[i].PrevOut == nil {
			return mismatch("input %d does not declare its previous output", i)
		}
	}
	return nil
}

func (b *Binder) checkStateless(d *deployment.Deployment, tx *wire.MsgTx, tmpl *api.TransactionTemplate) error {
	fee := tmpl.Fee
	if fee < 0 || fee > b.MaxFee {
		return mismatch("fee %d outside [0, %d]", fee, b.MaxFee)
	}
	if got, want := tx.TxOut[0].Value, d.Amount-fee; got != want {
		return mismatch("output 0 pays %d, expected %d", got, want)
	}
	return nil
}

func (b *Binder) checkStateful(d *deployment.Deployment, in *Stateful, tx *wire.MsgTx, tmpl *api.TransactionTemplate, groupKey taproot.PublicKey) error {
	current, err := ParseElement(*d.State)
	if err != nil {
		return mismatch("deployment state: %v", err)
	}
	if !in.StateIn.Equal(&current) {
		return mismatch("state in does not match the deployment's state")
	}
	if in.AmountOut > d.Amount+in.AmountIn {
		return mismatch("amount out %d is more than %d + %d", in.AmountOut, d.Amount, in.AmountIn)
	}

	var added int64
	for i := 1; i < len(tmpl.Inputs); i++ {
		added += tmpl.Inputs[i].PrevOut.Value
	}
	if added < in.AmountIn {
		return mismatch("inputs add %d, amount in is %d", added, in.AmountIn)
	}

	if len(tx.TxOut) < 3 {
		return mismatch("stateful unlock needs 3 outputs, got %d", len(tx.TxOut))
	}
	if tx.TxOut[0].Value != in.AmountOut {
		return mismatch("output 0 pays %d, amount out is %d", tx.TxOut[0].Value, in.AmountOut)
	}

	lock, err := txn.P2TRScript(groupKey)
	if err != nil {
		return err
	}
	relocked := d.Amount + in.AmountIn - in.AmountOut
	if !bytes.Equal(tx.TxOut[1].PkScript, lock) || tx.TxOut[1].Value != relocked {
		return mismatch("output 1 must lock %d to the committee", relocked)
	}

	stateOut := FormatElement(in.StateOut)
	next := &deployment.Deployment{VKHash: d.VKHash, State: &stateOut}
	record, err := next.Record()
	if err != nil {
		return err
	}
	if !bytes.Equal(tx.TxOut[2].PkScript, record) || tx.TxOut[2].Value != 0 {
		return mismatch("output 2 must publish the new state")
	}
	return nil
}
