// Package keygen implements the trusted dealer key ceremony for a FROST
// committee producing BIP-340 signatures.
package keygen

import (
	"errors"
	"fmt"
	"io"

	"github.com/zkbitcoin/committee/pkg/math/curve"
	"github.com/zkbitcoin/committee/pkg/math/polynomial"
	"github.com/zkbitcoin/committee/pkg/math/sample"
	"github.com/zkbitcoin/committee/pkg/party"
	"github.com/zkbitcoin/committee/pkg/pool"
	"github.com/zkbitcoin/committee/pkg/taproot"
)

// MaxAttempts bounds the number of independent dealings tried in order to
// obtain a group key with an even y coordinate.
//
// Each attempt succeeds with probability 1/2.
const MaxAttempts = 128

// ErrInvalidParameters is returned by Deal for an impossible committee shape.
var ErrInvalidParameters = errors.New("keygen: invalid parameters")

// Deal splits a fresh secret into n shares, any t of which can sign.
//
// Members are given the IDs 1, …, n. A dealing whose group key has an odd y
// coordinate is discarded entirely, and a new independent dealing is made.
//
// Errors coming from rand are returned immediately.
func Deal(rand io.Reader, pl *pool.Pool, n, t int) (map[party.ID]*Config, *PublicKeyPackage, error) {
	if n < 1 || n > party.MaxID {
		return nil, nil, fmt.Errorf("%w: committee size %d out of range", ErrInvalidParameters, n)
	}
	if t < 1 || t > n {
		return nil, nil, fmt.Errorf("%w: threshold %d out of range for %d members", ErrInvalidParameters, t, n)
	}

	for attempt := 0; attempt < MaxAttempts; attempt++ {
		secret, err := sample.ScalarNonZero(rand)
		if err != nil {
			return nil, nil, fmt.Errorf("keygen.Deal: %w", err)
		}
		f, err := polynomial.NewPolynomial(rand, t-1, secret)
		if err != nil {
			return nil, nil, fmt.Errorf("keygen.Deal: %w", err)
		}
		Y := secret.ActOnBase()
		if !Y.HasEvenY() {
			f.Zeroize()
			secret.Zeroize()
			continue
		}
		shares, public := deal(pl, f, n)
		f.Zeroize()
		secret.Zeroize()
		return shares, public, nil
	}
	return nil, nil, fmt.Errorf("keygen.Deal: no even group key after %d attempts", MaxAttempts)
}

// deal evaluates f at every ID, assuming f(0)⋅G has an even y coordinate.
func deal(pl *pool.Pool, f *polynomial.Polynomial, n int) (map[party.ID]*Config, *PublicKeyPackage) {
	ids := party.Sequential(n)

	privateShares := pool.Parallelize(pl, n, func(i int) *curve.Scalar {
		return f.Evaluate(ids[i].Scalar())
	})
	publicShares := pool.Parallelize(pl, n, func(i int) *curve.Point {
		return privateShares[i].ActOnBase()
	})

	verificationShares := make(map[party.ID]*curve.Point, n)
	for i, id := range ids {
		verificationShares[id] = publicShares[i]
	}

	commitment := polynomial.NewPolynomialExponent(f)
	// The constant term has an even y coordinate, so the x-only encoding is exact.
	publicKey := taproot.PublicKey(commitment.Constant().XBytes())

	public := &PublicKeyPackage{
		Threshold:          int(f.Degree()) + 1,
		PublicKey:          publicKey,
		VerificationShares: verificationShares,
		Commitment:         commitment,
	}

	configs := make(map[party.ID]*Config, n)
	for i, id := range ids {
		configs[id] = &Config{
			ID:                 id,
			Threshold:          public.Threshold,
			PrivateShare:       privateShares[i],
			PublicKey:          publicKey,
			VerificationShares: verificationShares,
			Commitment:         commitment,
		}
	}
	return configs, public
}
