// Package sample draws uniformly distributed scalars from a source of randomness.
package sample

import (
	"errors"
	"fmt"
	"io"

	"github.com/cronokirby/saferith"
	"github.com/zkbitcoin/committee/pkg/math/curve"
)

const maxIterations = 255

// ErrMaxIterations is returned when no acceptable value was found, which only
// happens if the source of randomness is broken.
var ErrMaxIterations = fmt.Errorf("sample: failed to generate after %d iterations", maxIterations)

// Scalar samples a uniformly random element of ℤₙ.
//
// SafeScalarBytes bytes are read and reduced modulo n, which makes the bias
// of the reduction negligible. Errors only come from the reader.
func Scalar(rand io.Reader) (*curve.Scalar, error) {
	buf := make([]byte, curve.SafeScalarBytes)
	if _, err := io.ReadFull(rand, buf); err != nil {
		return nil, fmt.Errorf("sample.Scalar: %w", err)
	}
	return curve.NewScalar().SetNat(new(saferith.Nat).SetBytes(buf)), nil
}

// ScalarNonZero is like Scalar, but never returns 0.
func ScalarNonZero(rand io.Reader) (*curve.Scalar, error) {
	for i := 0; i < maxIterations; i++ {
		s, err := Scalar(rand)
		if err != nil {
			return nil, err
		}
		if !s.IsZero() {
			return s, nil
		}
	}
	return nil, ErrMaxIterations
}

// ScalarPointPair returns a non zero scalar s, and the point s⋅G.
func ScalarPointPair(rand io.Reader) (*curve.Scalar, *curve.Point, error) {
	s, err := ScalarNonZero(rand)
	if err != nil {
		return nil, nil, err
	}
	return s, s.ActOnBase(), nil
}

// ErrReader is an io.Reader which always fails, useful to simulate a broken
// source of randomness.
type ErrReader struct{}

// Read implements io.Reader.
func (ErrReader) Read([]byte) (int, error) {
	return 0, errors.New("sample: randomness unavailable")
}
