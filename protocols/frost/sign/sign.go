// Package sign implements coordinator driven FROST signing, producing BIP-340
// signatures.
//
// A signature is made in two rounds. Each member of the signing set first
// sends a Commitment to a fresh Nonce. Once the coordinator holds the
// commitments of the whole signing set, every member answers with a Share,
// and the coordinator aggregates the shares into a taproot.Signature.
//
// See: https://eprint.iacr.org/2020/852.pdf
package sign

import (
	"errors"
	"fmt"
	"io"

	"github.com/zkbitcoin/committee/internal/hash"
	"github.com/zkbitcoin/committee/pkg/math/curve"
	"github.com/zkbitcoin/committee/pkg/math/polynomial"
	"github.com/zkbitcoin/committee/pkg/math/sample"
	"github.com/zkbitcoin/committee/pkg/party"
	"github.com/zkbitcoin/committee/pkg/taproot"
	"github.com/zkbitcoin/committee/protocols/frost/keygen"
)

var (
	// ErrInvalidCommitments is returned for a commitment list which cannot define a signing set.
	ErrInvalidCommitments = errors.New("sign: invalid commitments")
	// ErrNonceUsed is returned when signing with a zeroed Nonce.
	ErrNonceUsed = errors.New("sign: nonce already used")
)

// Commit draws a fresh nonce pair for member id.
func Commit(rand io.Reader, id party.ID) (*Nonce, *Commitment, error) {
	d, D, err := sample.ScalarPointPair(rand)
	if err != nil {
		return nil, nil, fmt.Errorf("sign.Commit: %w", err)
	}
	e, E, err := sample.ScalarPointPair(rand)
	if err != nil {
		return nil, nil, fmt.Errorf("sign.Commit: %w", err)
	}
	return &Nonce{ID: id, d: d, e: e}, &Commitment{ID: id, D: D, E: E}, nil
}

// Commitment recomputes the public commitment of n.
func (n *Nonce) Commitment() *Commitment {
	return &Commitment{ID: n.ID, D: n.d.ActOnBase(), E: n.e.ActOnBase()}
}

// Zeroize erases the nonce. A zeroed nonce cannot sign.
func (n *Nonce) Zeroize() {
	if n.d != nil {
		n.d.Zeroize()
	}
	if n.e != nil {
		n.e.Zeroize()
	}
	n.d, n.e = nil, nil
}

// Signing holds the values every participant derives from the message and the
// commitments of the signing set.
type Signing struct {
	// Y is the group key, with an even y coordinate.
	Y *curve.Point
	// M is the message, usually a sighash.
	M []byte
	// IDs is the signing set S.
	IDs party.IDSlice
	// Commitments are indexed by member.
	Commitments map[party.ID]*Commitment
	// R is the group commitment, adjusted to have an even y coordinate.
	R *curve.Point
	// RShares[l] = ±(Dₗ + ρₗ⋅Eₗ), so that ∑ RShares = R.
	RShares map[party.ID]*curve.Point
	// Rho[l] = ρₗ is the binding factor of l.
	Rho map[party.ID]*curve.Scalar
	// Lambda[l] = λₗ is the Lagrange coefficient of l over S.
	Lambda map[party.ID]*curve.Scalar
	// C is the BIP-340 challenge.
	C *curve.Scalar
	// negated is set when R was negated, which the members mirror on their nonces.
	negated bool
}

// NewSigning validates the commitments and derives the signing values.
//
// The commitments must come from distinct, non zero IDs, and contain no
// identity point. Their order does not matter.
func NewSigning(publicKey taproot.PublicKey, m []byte, commitments []*Commitment) (*Signing, error) {
	Y, err := publicKey.Point()
	if err != nil {
		return nil, fmt.Errorf("sign: group key: %w", err)
	}
	if len(commitments) == 0 {
		return nil, fmt.Errorf("%w: empty list", ErrInvalidCommitments)
	}

	s := &Signing{
		Y:           Y,
		M:           m,
		Commitments: make(map[party.ID]*Commitment, len(commitments)),
		RShares:     make(map[party.ID]*curve.Point, len(commitments)),
		Rho:         make(map[party.ID]*curve.Scalar, len(commitments)),
	}
	ids := make([]party.ID, 0, len(commitments))
	for _, c := range commitments {
		if err = c.Validate(); err != nil {
			return nil, err
		}
		if _, ok := s.Commitments[c.ID]; ok {
			return nil, fmt.Errorf("%w: duplicate commitment from %s", ErrInvalidCommitments, c.ID)
		}
		s.Commitments[c.ID] = c
		ids = append(ids, c.ID)
	}
	s.IDs = party.NewIDSlice(ids)

	// ρₗ = H(m, B, l). Computing H(m, B) once lets us clone the state for each l.
	rhoPreHash := hash.New()
	_ = rhoPreHash.WriteAny(messageHash(m))
	for _, l := range s.IDs {
		c := s.Commitments[l]
		if err = rhoPreHash.WriteAny(l, c.D, c.E); err != nil {
			return nil, fmt.Errorf("sign: binding factors: %w", err)
		}
	}
	for _, l := range s.IDs {
		rhoHash := rhoPreHash.Clone()
		_ = rhoHash.WriteAny(l)
		rho, err := sample.Scalar(rhoHash.Digest())
		if err != nil {
			return nil, fmt.Errorf("sign: binding factors: %w", err)
		}
		s.Rho[l] = rho
	}

	// R = ∑ₗ Dₗ + ρₗ⋅Eₗ
	R := curve.NewIdentityPoint()
	for _, l := range s.IDs {
		c := s.Commitments[l]
		s.RShares[l] = s.Rho[l].Act(c.E).Add(c.D)
		R = R.Add(s.RShares[l])
	}
	if R.IsIdentity() {
		return nil, fmt.Errorf("%w: group commitment is the identity", ErrInvalidCommitments)
	}

	// BIP-340 adjustment: R must have an even y coordinate. Negating R amounts
	// to every member negating dᵢ and eᵢ, and the RShares accordingly.
	if !R.HasEvenY() {
		s.negated = true
		R = R.Negate()
		for _, l := range s.IDs {
			s.RShares[l] = s.RShares[l].Negate()
		}
	}
	s.R = R
	s.C = taproot.Challenge(R, Y, m)
	s.Lambda = polynomial.Lagrange(s.IDs)
	return s, nil
}

// SignShare computes zᵢ = dᵢ + ρᵢ⋅eᵢ + λᵢ⋅sᵢ⋅c for the member owning share.
//
// commitments must contain the member's own commitment, unaltered.
// nonce is zeroed once the response is computed, whether or not it succeeds
// afterwards; callers must never reuse it.
func SignShare(share *keygen.Config, nonce *Nonce, m []byte, commitments []*Commitment) (*Share, error) {
	if nonce.d == nil || nonce.e == nil {
		return nil, ErrNonceUsed
	}
	defer nonce.Zeroize()

	s, err := NewSigning(share.PublicKey, m, commitments)
	if err != nil {
		return nil, err
	}
	own, ok := s.Commitments[share.ID]
	if !ok || nonce.ID != share.ID {
		return nil, fmt.Errorf("%w: no commitment from %s", ErrInvalidCommitments, share.ID)
	}
	if !own.Equal(nonce.Commitment()) {
		return nil, fmt.Errorf("%w: commitment of %s was altered", ErrInvalidCommitments, share.ID)
	}
	return s.response(share, nonce), nil
}

func (s *Signing) response(share *keygen.Config, nonce *Nonce) *Share {
	d := curve.NewScalar().Set(nonce.d)
	e := curve.NewScalar().Set(nonce.e)
	defer d.Zeroize()
	defer e.Zeroize()
	if s.negated {
		d.Negate()
		e.Negate()
	}

	// "Each Pᵢ computes their response using their long-lived secret share sᵢ
	// by computing zᵢ = dᵢ + (eᵢ ρᵢ) + λᵢ sᵢ c, using S to determine
	// the ith lagrange coefficient λᵢ"
	z := curve.NewScalar().Set(s.Lambda[share.ID]).Mul(share.PrivateShare).Mul(s.C)
	z.Add(d)
	z.Add(e.Mul(s.Rho[share.ID]))
	return &Share{ID: share.ID, Z: z}
}

// VerifyShare checks zᵢ⋅G = RSharesᵢ + c⋅λᵢ⋅Yᵢ, with Yᵢ the verification share of the sender.
func (s *Signing) VerifyShare(share *Share, Yi *curve.Point) bool {
	if share == nil || share.Z == nil || Yi == nil {
		return false
	}
	RShare, ok := s.RShares[share.ID]
	if !ok {
		return false
	}
	expected := curve.NewScalar().Set(s.C).Mul(s.Lambda[share.ID]).Act(Yi).Add(RShare)
	return share.Z.ActOnBase().Equal(expected)
}

// AggregationError reports the members whose shares did not verify.
type AggregationError struct {
	Culprits []party.ID
}

// Error implements error.
func (e *AggregationError) Error() string {
	return fmt.Sprintf("sign: aggregated signature does not verify, culprits %v", e.Culprits)
}

// Aggregate combines one share per member of the signing set into a
// signature, and verifies it against the group key.
//
// When verification fails, the shares are checked one by one against
// verificationShares and an *AggregationError names the culprits.
func (s *Signing) Aggregate(shares []*Share, verificationShares map[party.ID]*curve.Point) (taproot.Signature, error) {
	byID := make(map[party.ID]*Share, len(shares))
	for _, share := range shares {
		if share == nil || share.Z == nil {
			return nil, errors.New("sign: missing share")
		}
		if !s.IDs.Contains(share.ID) {
			return nil, fmt.Errorf("sign: share from %s outside the signing set", share.ID)
		}
		byID[share.ID] = share
	}
	if len(byID) != len(s.IDs) {
		return nil, fmt.Errorf("sign: %d shares for a signing set of %d", len(byID), len(s.IDs))
	}

	z := curve.NewScalar()
	for _, share := range byID {
		z.Add(share.Z)
	}
	sig := taproot.NewSignature(s.R, z)

	pk, err := taproot.PublicKeyFromPoint(s.Y)
	if err != nil {
		return nil, err
	}
	if pk.Verify(sig, s.M) {
		return sig, nil
	}

	var culprits []party.ID
	for _, l := range s.IDs {
		if !s.VerifyShare(byID[l], verificationShares[l]) {
			culprits = append(culprits, l)
		}
	}
	return nil, &AggregationError{Culprits: culprits}
}
