// Package curve wraps the secp256k1 group operations used by the committee.
//
// Scalars and points follow the conventions of the rest of this module: methods
// that modify the receiver return it, so calls can be chained, while methods on
// Point return fresh values.
package curve

import (
	"encoding/hex"
	"fmt"

	"github.com/cronokirby/saferith"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

const (
	// ScalarBytes is the size of a serialized Scalar.
	ScalarBytes = 32
	// PointBytes is the size of a compressed Point.
	PointBytes = 33
	// XOnlyBytes is the size of the x coordinate of a Point.
	XOnlyBytes = 32
	// SafeScalarBytes is the number of random bytes to reduce into a Scalar
	// so that the bias of the reduction is negligible.
	SafeScalarBytes = 2 * ScalarBytes
)

var order = saferith.ModulusFromBytes(secp256k1.Params().N.Bytes())

// Name returns the name of the group.
func Name() string {
	return "secp256k1"
}

// Order returns the order of the group, as a saferith.Modulus.
func Order() *saferith.Modulus {
	return order
}

// FromHash interprets a 32 byte digest as a big-endian integer, and reduces it
// modulo the group order.
//
// This is the conversion BIP-340 uses for its challenge.
func FromHash(h []byte) *Scalar {
	return NewScalar().SetNat(new(saferith.Nat).SetBytes(h))
}

func decodeHex(name string, text []byte, size int) ([]byte, error) {
	data, err := hex.DecodeString(string(text))
	if err != nil {
		return nil, fmt.Errorf("curve: %s: %w", name, err)
	}
	if len(data) != size {
		return nil, fmt.Errorf("curve: %s: invalid length %d", name, len(data))
	}
	return data, nil
}
