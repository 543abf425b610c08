// Package deployment describes zkapps locked to the committee, and stores them.
package deployment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/zkbitcoin/committee/internal/api"
	"github.com/zkbitcoin/committee/internal/txn"
	"github.com/zkbitcoin/committee/pkg/taproot"
)

// Kind distinguishes zkapps that carry a state from those that do not.
type Kind int

const (
	Stateless Kind = iota
	Stateful
)

// StateLen is the number of field elements of a stateful zkapp's state.
const StateLen = 1

// String implements fmt.Stringer.
func (k Kind) String() string {
	if k == Stateful {
		return "stateful"
	}
	return "stateless"
}

// NbPublicInputs is the number of public inputs a circuit of kind k must have.
//
// A stateless circuit only sees the txid. A stateful one additionally sees the
// amount in and out, and the state before and after.
func (k Kind) NbPublicInputs() int {
	if k == Stateful {
		return 3 + 2*StateLen
	}
	return 1
}

// Deployment is a zkapp: funds locked to the committee's key, together with
// the hash of the verifying key which can unlock them.
type Deployment struct {
	TxID   chainhash.Hash
	Vout   uint32
	VKHash [32]byte
	// Amount is the value locked, in satoshis.
	Amount int64
	// State is the decimal encoding of the current state, nil when stateless.
	State *string
}

// Kind returns Stateful if d carries a state.
func (d *Deployment) Kind() Kind {
	if d.State != nil {
		return Stateful
	}
	return Stateless
}

// Outpoint returns the output holding the locked funds.
func (d *Deployment) Outpoint() wire.OutPoint {
	return wire.OutPoint{Hash: d.TxID, Index: d.Vout}
}

// Validate checks the deployment on its own.
func (d *Deployment) Validate() error {
	if d.Amount <= 0 {
		return fmt.Errorf("deployment: non positive amount %d", d.Amount)
	}
	if d.VKHash == [32]byte{} {
		return errors.New("deployment: missing verifying key hash")
	}
	if d.State != nil {
		if _, err := parseState(*d.State); err != nil {
			return fmt.Errorf("deployment: state: %w", err)
		}
	}
	return nil
}

// CheckVerifyingKey checks that a verifying key with nbPublic public inputs can
// unlock d.
func (d *Deployment) CheckVerifyingKey(nbPublic int) error {
	if expected := d.Kind().NbPublicInputs(); nbPublic != expected {
		return fmt.Errorf("deployment: %s zkapp needs %d public inputs, verifying key has %d", d.Kind(), expected, nbPublic)
	}
	return nil
}

// Record returns the OP_RETURN script publishing the verifying key hash, and the state if any.
func (d *Deployment) Record() ([]byte, error) {
	b := txscript.NewScriptBuilder().AddOp(txscript.OP_RETURN).AddData(d.VKHash[:])
	if d.State != nil {
		state, err := parseState(*d.State)
		if err != nil {
			return nil, fmt.Errorf("deployment: state: %w", err)
		}
		stateBytes := state.Bytes()
		b.AddData(stateBytes[:])
	}
	return b.Script()
}

// FromTransaction reads the deployment made by output vout of tx.
//
// Output vout must pay the group key's taproot script. The next output must
// be the record OP_RETURN <vk hash> [<state>].
func FromTransaction(tx *wire.MsgTx, vout uint32, groupKey taproot.PublicKey) (*Deployment, error) {
	if int(vout)+1 >= len(tx.TxOut) {
		return nil, fmt.Errorf("deployment: transaction has no output %d and record", vout)
	}
	lock, err := txn.P2TRScript(groupKey)
	if err != nil {
		return nil, err
	}
	out := tx.TxOut[vout]
	if !bytes.Equal(out.PkScript, lock) {
		return nil, fmt.Errorf("deployment: output %d does not pay the committee", vout)
	}

	pushes, err := parseRecord(tx.TxOut[vout+1].PkScript)
	if err != nil {
		return nil, err
	}
	d := &Deployment{
		TxID:   tx.TxHash(),
		Vout:   vout,
		Amount: out.Value,
	}
	copy(d.VKHash[:], pushes[0])
	if len(pushes) == 2 {
		var state fr.Element
		if err = state.SetBytesCanonical(pushes[1]); err != nil {
			return nil, fmt.Errorf("deployment: state: %w", err)
		}
		var v big.Int
		state.BigInt(&v)
		s := v.String()
		d.State = &s
	}
	if err = d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

func parseRecord(script []byte) ([][]byte, error) {
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	if !tokenizer.Next() || tokenizer.Opcode() != txscript.OP_RETURN {
		return nil, errors.New("deployment: record is not an OP_RETURN output")
	}
	var pushes [][]byte
	for tokenizer.Next() {
		data := tokenizer.Data()
		if len(data) != 32 {
			return nil, fmt.Errorf("deployment: record push of %d bytes", len(data))
		}
		pushes = append(pushes, data)
	}
	if err := tokenizer.Err(); err != nil {
		return nil, fmt.Errorf("deployment: record: %w", err)
	}
	if len(pushes) != 1 && len(pushes) != 1+StateLen {
		return nil, fmt.Errorf("deployment: record has %d pushes", len(pushes))
	}
	return pushes, nil
}

func parseState(s string) (*fr.Element, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 || v.Cmp(fr.Modulus()) >= 0 {
		return nil, fmt.Errorf("%q is not a field element", s)
	}
	return new(fr.Element).SetBigInt(v), nil
}

// Registry stores deployments by txid.
type Registry interface {
	// Get returns api.ErrDeploymentNotFound when txid is unknown.
	Get(ctx context.Context, txid chainhash.Hash) (*Deployment, error)
	// Put stores d. Storing the same deployment again is a no-op, while a
	// different one under a known txid fails with api.ErrDeploymentConflict.
	Put(ctx context.Context, d *Deployment) error
}

// Equal returns true if d and other describe the same locked output.
func (d *Deployment) Equal(other *Deployment) bool {
	if d.TxID != other.TxID || d.Vout != other.Vout || d.VKHash != other.VKHash || d.Amount != other.Amount {
		return false
	}
	if d.State == nil || other.State == nil {
		return d.State == nil && other.State == nil
	}
	return *d.State == *other.State
}

func conflict(txid chainhash.Hash) error {
	return api.Errorf(api.ErrDeploymentConflict, "%s", txid)
}

func notFound(txid chainhash.Hash) error {
	return api.Errorf(api.ErrDeploymentNotFound, "%s", txid)
}
