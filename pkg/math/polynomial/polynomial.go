package polynomial

import (
	"errors"
	"io"

	"github.com/zkbitcoin/committee/pkg/math/curve"
	"github.com/zkbitcoin/committee/pkg/math/sample"
)

// Polynomial represents f(X) = a₀ + a₁⋅X + … + aₜ⋅Xᵗ.
type Polynomial struct {
	coefficients []*curve.Scalar
}

// NewPolynomial generates a Polynomial f(X) = constant + a₁⋅X + … + aₜ⋅Xᵗ,
// with coefficients in ℤₙ, and degree t.
//
// A nil constant is interpreted as 0.
func NewPolynomial(rand io.Reader, degree int, constant *curve.Scalar) (*Polynomial, error) {
	if degree < 0 {
		return nil, errors.New("polynomial: negative degree")
	}
	p := &Polynomial{coefficients: make([]*curve.Scalar, degree+1)}

	if constant == nil {
		constant = curve.NewScalar()
	}
	p.coefficients[0] = curve.NewScalar().Set(constant)

	for i := 1; i <= degree; i++ {
		c, err := sample.Scalar(rand)
		if err != nil {
			return nil, err
		}
		p.coefficients[i] = c
	}
	return p, nil
}

// Evaluate evaluates a polynomial in a given variable index
// We use Horner's method: https://en.wikipedia.org/wiki/Horner%27s_method
func (p *Polynomial) Evaluate(index *curve.Scalar) *curve.Scalar {
	if index.IsZero() {
		panic("attempt to leak secret")
	}

	result := curve.NewScalar()
	for i := len(p.coefficients) - 1; i >= 0; i-- {
		// bₙ₋₁ = bₙ * x + aₙ₋₁
		result.Mul(index).Add(p.coefficients[i])
	}
	return result
}

// Constant returns a reference to the constant coefficient of the polynomial.
func (p *Polynomial) Constant() *curve.Scalar {
	return p.coefficients[0]
}

// Degree is the highest power of the Polynomial.
func (p *Polynomial) Degree() uint32 {
	return uint32(len(p.coefficients)) - 1
}

// Zeroize erases all coefficients.
func (p *Polynomial) Zeroize() {
	for _, c := range p.coefficients {
		c.Zeroize()
	}
}
