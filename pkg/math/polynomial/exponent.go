package polynomial

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/zkbitcoin/committee/pkg/math/curve"
)

// Exponent represents a polynomial whose coefficients are points on an elliptic curve.
//
// The dealer publishes the Exponent of its secret polynomial so that every
// member can check its share against it.
type Exponent struct {
	coefficients []*curve.Point
}

// NewPolynomialExponent generates an Exponent polynomial F(X) = [secret + a₁⋅X + … + aₜ⋅Xᵗ]•G,
// with coefficients in G, and degree t.
func NewPolynomialExponent(polynomial *Polynomial) *Exponent {
	p := &Exponent{coefficients: make([]*curve.Point, len(polynomial.coefficients))}
	for i, c := range polynomial.coefficients {
		p.coefficients[i] = c.ActOnBase()
	}
	return p
}

// Evaluate returns F(index), using Horner's method.
func (p *Exponent) Evaluate(index *curve.Scalar) *curve.Point {
	result := curve.NewIdentityPoint()
	for i := len(p.coefficients) - 1; i >= 0; i-- {
		// Bₙ₋₁ = [x]Bₙ + Aₙ₋₁
		result = index.Act(result).Add(p.coefficients[i])
	}
	return result
}

// Degree is the highest power of the Exponent.
func (p *Exponent) Degree() int {
	return len(p.coefficients) - 1
}

// Constant returns the constant coefficient of the polynomial 'in the exponent'.
func (p *Exponent) Constant() *curve.Point {
	return p.coefficients[0]
}

// WriteTo implements io.WriterTo and should be used within the hash.Hash function.
func (p *Exponent) WriteTo(w io.Writer) (int64, error) {
	var nAll int64
	for _, c := range p.coefficients {
		n, err := c.WriteTo(w)
		nAll += n
		if err != nil {
			return nAll, err
		}
	}
	return nAll, nil
}

// Domain implements hash.Value.
func (*Exponent) Domain() string {
	return "Exponent"
}

// MarshalJSON encodes the coefficients as a list of compressed points.
func (p *Exponent) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.coefficients)
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Exponent) UnmarshalJSON(data []byte) error {
	var coefficients []*curve.Point
	if err := json.Unmarshal(data, &coefficients); err != nil {
		return err
	}
	if len(coefficients) == 0 {
		return errors.New("polynomial.Exponent: no coefficients")
	}
	p.coefficients = coefficients
	return nil
}

// MarshalCBOR implements cbor.Marshaler.
func (p *Exponent) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(p.coefficients)
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (p *Exponent) UnmarshalCBOR(data []byte) error {
	var coefficients []*curve.Point
	if err := cbor.Unmarshal(data, &coefficients); err != nil {
		return err
	}
	if len(coefficients) == 0 {
		return errors.New("polynomial.Exponent: no coefficients")
	}
	p.coefficients = coefficients
	return nil
}
