package curve

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Point is an element of the secp256k1 group.
//
// The zero value is the identity.
type Point struct {
	value secp256k1.JacobianPoint
}

// NewIdentityPoint returns the identity element.
func NewIdentityPoint() *Point {
	return new(Point)
}

// NewBasePoint returns the generator G.
func NewBasePoint() *Point {
	return NewScalarUInt32(1).ActOnBase()
}

// Set sets p = that, and returns p.
func (p *Point) Set(that *Point) *Point {
	p.value.Set(&that.value)
	return p
}

// Add returns p + that.
func (p *Point) Add(that *Point) *Point {
	out := new(Point)
	secp256k1.AddNonConst(&p.value, &that.value, &out.value)
	return out
}

// Sub returns p - that.
func (p *Point) Sub(that *Point) *Point {
	return p.Add(that.Negate())
}

// Negate returns -p.
func (p *Point) Negate() *Point {
	out := new(Point)
	out.value.Set(&p.value)
	if out.IsIdentity() {
		return out
	}
	out.value.ToAffine()
	out.value.Y.Negate(1)
	out.value.Y.Normalize()
	return out
}

// Equal returns true if p and that are the same group element.
func (p *Point) Equal(that *Point) bool {
	pIdentity, thatIdentity := p.IsIdentity(), that.IsIdentity()
	if pIdentity || thatIdentity {
		return pIdentity == thatIdentity
	}
	p.value.ToAffine()
	that.value.ToAffine()
	return p.value.X.Equals(&that.value.X) && p.value.Y.Equals(&that.value.Y)
}

// IsIdentity returns true if p is the identity element.
func (p *Point) IsIdentity() bool {
	return (p.value.X.IsZero() && p.value.Y.IsZero()) || p.value.Z.IsZero()
}

// HasEvenY returns true if the affine y coordinate of p is even.
//
// BIP-340 only works with points of this form.
func (p *Point) HasEvenY() bool {
	p.value.ToAffine()
	return !p.value.Y.IsOdd()
}

// XBytes returns the 32 byte big-endian encoding of the affine x coordinate of p.
func (p *Point) XBytes() []byte {
	p.value.ToAffine()
	return p.value.X.Bytes()[:]
}

// LiftX returns the point with x coordinate data and an even y coordinate.
//
// See: https://github.com/bitcoin/bips/blob/master/bip-0340.mediawiki#specification
func LiftX(data []byte) (*Point, error) {
	if len(data) != XOnlyBytes {
		return nil, fmt.Errorf("curve.LiftX: invalid length %d", len(data))
	}
	out := new(Point)
	out.value.Z.SetInt(1)
	if out.value.X.SetByteSlice(data) {
		return nil, errors.New("curve.LiftX: x coordinate out of range")
	}
	if !secp256k1.DecompressY(&out.value.X, false, &out.value.Y) {
		return nil, errors.New("curve.LiftX: x coordinate not on curve")
	}
	return out, nil
}

// MarshalBinary implements encoding.BinaryMarshaler, using the compressed
// encoding of Bitcoin.
//
// The identity cannot be marshalled.
func (p *Point) MarshalBinary() ([]byte, error) {
	if p.IsIdentity() {
		return nil, errors.New("curve.Point: cannot marshal the identity")
	}
	out := make([]byte, PointBytes)
	p.value.ToAffine()
	out[0] = byte(p.value.Y.IsOddBit()) + 2
	x := p.value.X.Bytes()
	copy(out[1:], x[:])
	return out, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *Point) UnmarshalBinary(data []byte) error {
	if len(data) != PointBytes {
		return fmt.Errorf("curve.Point: invalid length %d", len(data))
	}
	if data[0] != 2 && data[0] != 3 {
		return fmt.Errorf("curve.Point: invalid prefix %#x", data[0])
	}
	p.value.Z.SetInt(1)
	if p.value.X.SetByteSlice(data[1:]) {
		return errors.New("curve.Point: x coordinate out of range")
	}
	if !secp256k1.DecompressY(&p.value.X, data[0] == 3, &p.value.Y) {
		return errors.New("curve.Point: x coordinate not on curve")
	}
	return nil
}

// MarshalText implements encoding.TextMarshaler, using the hex of the
// compressed encoding.
func (p *Point) MarshalText() ([]byte, error) {
	data, err := p.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return []byte(hex.EncodeToString(data)), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Point) UnmarshalText(text []byte) error {
	data, err := decodeHex("Point", text, PointBytes)
	if err != nil {
		return err
	}
	return p.UnmarshalBinary(data)
}

// WriteTo implements io.WriterTo.
func (p *Point) WriteTo(w io.Writer) (int64, error) {
	data, err := p.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	return int64(n), err
}

// Domain implements hash.Value.
func (*Point) Domain() string {
	return "secp256k1.Point"
}
