package binder

import (
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/zkbitcoin/committee/internal/deployment"
)

// Inputs are the public inputs of a proof, interpreted for a kind of zkapp.
//
// It is either a Stateless or a Stateful.
type Inputs interface {
	// TxIDElement is the first input, committing to the deployment transaction.
	TxIDElement() fr.Element
	kind() deployment.Kind
}

// Stateless are the inputs of a zkapp without state.
type Stateless struct {
	TxID fr.Element
}

// Stateful are the inputs of a zkapp with a single element of state.
type Stateful struct {
	TxID fr.Element
	// AmountIn is added to the locked funds by Bob, in satoshis.
	AmountIn int64
	// AmountOut is taken out of the locked funds by Bob, in satoshis.
	AmountOut int64
	StateIn   fr.Element
	StateOut  fr.Element
}

func (s *Stateless) TxIDElement() fr.Element { return s.TxID }
func (*Stateless) kind() deployment.Kind      { return deployment.Stateless }
func (s *Stateful) TxIDElement() fr.Element  { return s.TxID }
func (*Stateful) kind() deployment.Kind       { return deployment.Stateful }

// ParseElement parses the decimal encoding of a BN254 scalar field element.
//
// Values outside [0, r) are rejected rather than reduced.
func ParseElement(s string) (fr.Element, error) {
	var e fr.Element
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return e, fmt.Errorf("%q is not a decimal integer", s)
	}
	if v.Sign() < 0 || v.Cmp(fr.Modulus()) >= 0 {
		return e, fmt.Errorf("%q is not a field element", s)
	}
	e.SetBigInt(v)
	return e, nil
}

// FormatElement returns the canonical decimal encoding of e, which ParseElement accepts.
func FormatElement(e fr.Element) string {
	var v big.Int
	e.BigInt(&v)
	return v.String()
}

// ParseElements parses every element of values.
func ParseElements(values []string) ([]fr.Element, error) {
	out := make([]fr.Element, len(values))
	for i, s := range values {
		e, err := ParseElement(s)
		if err != nil {
			return nil, fmt.Errorf("public input %d: %w", i, err)
		}
		out[i] = e
	}
	return out, nil
}

// TxIDElement maps a txid to the field: the txid in display byte order, read as
// a big-endian integer, reduced modulo r.
func TxIDElement(txid chainhash.Hash) fr.Element {
	var display [chainhash.HashSize]byte
	for i := range txid {
		display[i] = txid[chainhash.HashSize-1-i]
	}
	var e fr.Element
	e.SetBytes(display[:])
	return e
}

// ParseInputs interprets values for a zkapp of the given kind.
func ParseInputs(kind deployment.Kind, values []string) (Inputs, error) {
	if len(values) != kind.NbPublicInputs() {
		return nil, fmt.Errorf("%s zkapp takes %d public inputs, got %d", kind, kind.NbPublicInputs(), len(values))
	}
	elements, err := ParseElements(values)
	if err != nil {
		return nil, err
	}
	if kind == deployment.Stateless {
		return &Stateless{TxID: elements[0]}, nil
	}
	amountIn, err := amount(elements[1])
	if err != nil {
		return nil, fmt.Errorf("amount in: %w", err)
	}
	amountOut, err := amount(elements[2])
	if err != nil {
		return nil, fmt.Errorf("amount out: %w", err)
	}
	return &Stateful{
		TxID:      elements[0],
		AmountIn:  amountIn,
		AmountOut: amountOut,
		StateIn:   elements[3],
		StateOut:  elements[4],
	}, nil
}

// amount converts a field element to satoshis.
func amount(e fr.Element) (int64, error) {
	var v big.Int
	e.BigInt(&v)
	if !v.IsInt64() || v.Int64() > btcutil.MaxSatoshi {
		return 0, fmt.Errorf("%s satoshis is more than exists", v.String())
	}
	return v.Int64(), nil
}
