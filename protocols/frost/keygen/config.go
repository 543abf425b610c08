package keygen

import (
	"errors"
	"fmt"

	"github.com/zkbitcoin/committee/pkg/math/curve"
	"github.com/zkbitcoin/committee/pkg/math/polynomial"
	"github.com/zkbitcoin/committee/pkg/party"
	"github.com/zkbitcoin/committee/pkg/taproot"
)

// Config contains all the information produced by the dealer, from the perspective
// of a single committee member. This is the member's key share.
type Config struct {
	// ID is the identifier for this member.
	ID party.ID `cbor:"id" json:"id"`
	// Threshold is the minimum number of members needed to sign.
	Threshold int `cbor:"threshold" json:"threshold"`
	// PrivateShare is the fraction of the secret key owned by this member.
	PrivateShare *curve.Scalar `cbor:"private_share" json:"private_share"`
	// PublicKey is the x-only group key, whose point always has an even y coordinate.
	PublicKey taproot.PublicKey `cbor:"public_key" json:"public_key"`
	// VerificationShares is a map between members and a commitment to their private share.
	//
	// This is used to verify the integrity of signature shares.
	VerificationShares map[party.ID]*curve.Point `cbor:"verification_shares" json:"verification_shares"`
	// Commitment is the dealer's polynomial in the exponent.
	Commitment *polynomial.Exponent `cbor:"commitment" json:"commitment"`
}

// PublicKeyPackage is the public part of the ceremony output, shared by every
// member and the orchestrator.
type PublicKeyPackage struct {
	Threshold          int                       `json:"threshold"`
	PublicKey          taproot.PublicKey         `json:"public_key"`
	VerificationShares map[party.ID]*curve.Point `json:"verification_shares"`
	Commitment         *polynomial.Exponent      `json:"commitment"`
}

// PartyIDs returns the sorted IDs of every member.
func (p *PublicKeyPackage) PartyIDs() party.IDSlice {
	ids := make([]party.ID, 0, len(p.VerificationShares))
	for id := range p.VerificationShares {
		ids = append(ids, id)
	}
	return party.NewIDSlice(ids)
}

// GroupKey lifts the x-only public key to a point.
func (p *PublicKeyPackage) GroupKey() (*curve.Point, error) {
	return p.PublicKey.Point()
}

// Validate checks that the package is internally consistent.
//
// The verification shares must be the evaluations of the commitment, whose
// constant term is the even-y group key.
func (p *PublicKeyPackage) Validate() error {
	n := len(p.VerificationShares)
	if p.Threshold < 1 || p.Threshold > n {
		return fmt.Errorf("keygen: threshold %d out of range for %d members", p.Threshold, n)
	}
	if p.Commitment == nil || p.Commitment.Degree() != p.Threshold-1 {
		return errors.New("keygen: commitment degree does not match threshold")
	}
	Y, err := p.GroupKey()
	if err != nil {
		return fmt.Errorf("keygen: %w", err)
	}
	if !Y.Equal(p.Commitment.Constant()) {
		return errors.New("keygen: group key does not match commitment")
	}
	for id, Yi := range p.VerificationShares {
		if err = id.Validate(); err != nil {
			return fmt.Errorf("keygen: %w", err)
		}
		if Yi == nil || !Yi.Equal(p.Commitment.Evaluate(id.Scalar())) {
			return fmt.Errorf("keygen: verification share of %s does not match commitment", id)
		}
	}
	return nil
}

// Public returns the PublicKeyPackage embedded in this key share.
func (c *Config) Public() *PublicKeyPackage {
	return &PublicKeyPackage{
		Threshold:          c.Threshold,
		PublicKey:          c.PublicKey,
		VerificationShares: c.VerificationShares,
		Commitment:         c.Commitment,
	}
}

// Validate checks the public package, and that PrivateShare matches the
// member's verification share.
func (c *Config) Validate() error {
	if err := c.Public().Validate(); err != nil {
		return err
	}
	Yi, ok := c.VerificationShares[c.ID]
	if !ok {
		return fmt.Errorf("keygen: no verification share for %s", c.ID)
	}
	if c.PrivateShare == nil || c.PrivateShare.IsZero() || !c.PrivateShare.ActOnBase().Equal(Yi) {
		return fmt.Errorf("keygen: private share of %s does not match its verification share", c.ID)
	}
	return nil
}
