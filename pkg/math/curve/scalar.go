package curve

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/cronokirby/saferith"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Scalar is an element of ℤₙ, with n the order of secp256k1.
//
// The zero value is the scalar 0.
type Scalar struct {
	value secp256k1.ModNScalar
}

// NewScalar returns a new zero Scalar.
func NewScalar() *Scalar {
	return new(Scalar)
}

// NewScalarUInt32 returns a new Scalar set to x.
func NewScalarUInt32(x uint32) *Scalar {
	var s Scalar
	s.value.SetInt(x)
	return &s
}

// Set sets s = that, and returns s.
func (s *Scalar) Set(that *Scalar) *Scalar {
	s.value.Set(&that.value)
	return s
}

// SetNat sets s = x mod n, and returns s.
func (s *Scalar) SetNat(x *saferith.Nat) *Scalar {
	reduced := new(saferith.Nat).Mod(x, order)
	var data [ScalarBytes]byte
	reduced.FillBytes(data[:])
	s.value.SetBytes(&data)
	return s
}

// Add sets s = s + that, and returns s.
func (s *Scalar) Add(that *Scalar) *Scalar {
	s.value.Add(&that.value)
	return s
}

// Sub sets s = s - that, and returns s.
func (s *Scalar) Sub(that *Scalar) *Scalar {
	var negated secp256k1.ModNScalar
	negated.NegateVal(&that.value)
	s.value.Add(&negated)
	return s
}

// Mul sets s = s * that, and returns s.
func (s *Scalar) Mul(that *Scalar) *Scalar {
	s.value.Mul(&that.value)
	return s
}

// Negate sets s = -s, and returns s.
func (s *Scalar) Negate() *Scalar {
	s.value.Negate()
	return s
}

// Invert sets s = s⁻¹, and returns s.
//
// Inverting 0 leaves it at 0.
func (s *Scalar) Invert() *Scalar {
	s.value.InverseNonConst()
	return s
}

// Equal returns true if s and that represent the same element.
func (s *Scalar) Equal(that *Scalar) bool {
	return s.value.Equals(&that.value)
}

// IsZero returns true if s = 0.
func (s *Scalar) IsZero() bool {
	return s.value.IsZero()
}

// Zeroize overwrites the value of s with 0.
func (s *Scalar) Zeroize() {
	s.value.Zero()
}

// Act returns s⋅p.
func (s *Scalar) Act(p *Point) *Point {
	out := new(Point)
	secp256k1.ScalarMultNonConst(&s.value, &p.value, &out.value)
	return out
}

// ActOnBase returns s⋅G.
func (s *Scalar) ActOnBase() *Point {
	out := new(Point)
	secp256k1.ScalarBaseMultNonConst(&s.value, &out.value)
	return out
}

// Bytes returns the 32 byte big-endian encoding of s.
func (s *Scalar) Bytes() []byte {
	data := s.value.Bytes()
	return data[:]
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (s *Scalar) MarshalBinary() ([]byte, error) {
	return s.Bytes(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
//
// Encodings which are not reduced modulo n are rejected.
func (s *Scalar) UnmarshalBinary(data []byte) error {
	if len(data) != ScalarBytes {
		return fmt.Errorf("curve.Scalar: invalid length %d", len(data))
	}
	var exact [ScalarBytes]byte
	copy(exact[:], data)
	if s.value.SetBytes(&exact) != 0 {
		return errors.New("curve.Scalar: value is not reduced")
	}
	return nil
}

// MarshalText implements encoding.TextMarshaler, using hex.
func (s *Scalar) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(s.Bytes())), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Scalar) UnmarshalText(text []byte) error {
	data, err := decodeHex("Scalar", text, ScalarBytes)
	if err != nil {
		return err
	}
	return s.UnmarshalBinary(data)
}

// WriteTo implements io.WriterTo.
func (s *Scalar) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(s.Bytes())
	return int64(n), err
}

// Domain implements hash.Value.
func (*Scalar) Domain() string {
	return "secp256k1.Scalar"
}
