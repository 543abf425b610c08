package sign

import (
	"fmt"
	"io"

	"github.com/zkbitcoin/committee/pkg/math/curve"
	"github.com/zkbitcoin/committee/pkg/party"
)

// messageHash is a wrapper around bytes to provide some domain separation
type messageHash []byte

// WriteTo makes messageHash implement the io.WriterTo interface.
func (m messageHash) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(m)
	return int64(n), err
}

// Domain implements hash.Value.
func (messageHash) Domain() string {
	return "messageHash"
}

// Nonce is the secret pair (dᵢ, eᵢ) a member draws for a single signature.
//
// It must be used at most once, and zeroed right after.
type Nonce struct {
	ID party.ID
	// d is the hiding nonce.
	d *curve.Scalar
	// e is the binding nonce.
	e *curve.Scalar
}

// Commitment is the public counterpart (Dᵢ, Eᵢ) = (dᵢ⋅G, eᵢ⋅G) of a Nonce.
type Commitment struct {
	ID party.ID    `cbor:"member_id" json:"member_id"`
	D  *curve.Point `cbor:"hiding" json:"hiding"`
	E  *curve.Point `cbor:"binding" json:"binding"`
}

// Validate checks that c carries a valid ID and two non identity points.
func (c *Commitment) Validate() error {
	if c == nil || c.D == nil || c.E == nil {
		return fmt.Errorf("%w: missing commitment", ErrInvalidCommitments)
	}
	if err := c.ID.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCommitments, err)
	}
	// "… checks Dₗ, Eₗ in Gˣ for each commitment in B, aborting if
	// either check fails."
	if c.D.IsIdentity() || c.E.IsIdentity() {
		return fmt.Errorf("%w: identity commitment from %s", ErrInvalidCommitments, c.ID)
	}
	return nil
}

// Equal returns true if both commitments come from the same member and nonce.
func (c *Commitment) Equal(other *Commitment) bool {
	return c.ID == other.ID && c.D.Equal(other.D) && c.E.Equal(other.E)
}

// Share is a member's response zᵢ for a signing set.
type Share struct {
	ID party.ID     `cbor:"member_id" json:"member_id"`
	Z  *curve.Scalar `cbor:"z" json:"z"`
}
