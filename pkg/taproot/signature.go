package taproot

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/zkbitcoin/committee/pkg/math/curve"
)

// TaggedHash addes some domain separation to SHA-256.
//
// This is the hash_tag function mentioned in BIP-340.
//
// See: https://github.com/bitcoin/bips/blob/master/bip-0340.mediawiki#specification
func TaggedHash(tag string, datas ...[]byte) []byte {
	tagSum := sha256.Sum256([]byte(tag))

	h := sha256.New()
	h.Write(tagSum[:])
	h.Write(tagSum[:])
	for _, data := range datas {
		h.Write(data)
	}
	return h.Sum(nil)
}

// Challenge computes e = int(hash_BIP0340/challenge(R.x || P.x || m)) mod n.
func Challenge(R, P *curve.Point, m []byte) *curve.Scalar {
	return curve.FromHash(TaggedHash("BIP0340/challenge", R.XBytes(), P.XBytes(), m))
}

// SecretKeyLength is the number of bytes in a SecretKey.
const SecretKeyLength = 32

// SecretKey represents a secret key for BIP-340 signatures.
//
// This is simply an array of 32 bytes.
type SecretKey []byte

// PublicKeyLength is the number of bytes in a PublicKey.
const PublicKeyLength = 32

// PublicKey represents a public key for BIP-340 signatures.
//
// This key allows verifying signatures produced with the corresponding secret key.
//
// This is simply the x coordinate of a point with an even y coordinate.
type PublicKey []byte

// PublicKeyFromPoint returns the x-only encoding of P.
//
// An error is returned if P does not have an even y coordinate, since the
// encoding would then describe -P instead.
func PublicKeyFromPoint(P *curve.Point) (PublicKey, error) {
	if P.IsIdentity() {
		return nil, errors.New("taproot: identity is not a valid public key")
	}
	if !P.HasEvenY() {
		return nil, errors.New("taproot: public key must have an even y coordinate")
	}
	return PublicKey(P.XBytes()), nil
}

// Point lifts the public key back onto the curve.
func (pk PublicKey) Point() (*curve.Point, error) {
	return curve.LiftX(pk)
}

// String returns the hex encoding of pk.
func (pk PublicKey) String() string {
	return hex.EncodeToString(pk)
}

// MarshalText implements encoding.TextMarshaler.
func (pk PublicKey) MarshalText() ([]byte, error) {
	return []byte(pk.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (pk *PublicKey) UnmarshalText(text []byte) error {
	data, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}
	if len(data) != PublicKeyLength {
		return fmt.Errorf("taproot: invalid public key length %d", len(data))
	}
	*pk = data
	return nil
}

// Public calculates the public key corresponding to a given secret key.
//
// This will return an error if the secret key is invalid.
//
// See: https://github.com/bitcoin/bips/blob/master/bip-0340.mediawiki#public-key-generation
func (sk SecretKey) Public() (PublicKey, error) {
	scalar := new(curve.Scalar)
	if err := scalar.UnmarshalBinary(sk); err != nil || scalar.IsZero() {
		return nil, fmt.Errorf("invalid secret key")
	}
	return PublicKey(scalar.ActOnBase().XBytes()), nil
}

// GenKey generates a new key-pair, from a source of randomness.
//
// Errors returned by this function will only come from the reader. If you know
// that the reader will never return errors, you can rest assured that this
// function won't either.
func GenKey(rand io.Reader) (SecretKey, PublicKey, error) {
	for {
		secret := SecretKey(make([]byte, SecretKeyLength))
		if _, err := io.ReadFull(rand, secret); err != nil {
			return nil, nil, err
		}
		if public, err := secret.Public(); err == nil {
			return secret, public, nil
		}
	}
}

// SignatureLen is the number of bytes in a Signature.
const SignatureLen = 64

// Signature represents a signature according to BIP-340.
//
// This should exactly SignatureLen = 64 bytes long.
//
// This can only be produced using a secret key, but anyone with a public key
// can verify the integrity of the signature.
type Signature []byte

// NewSignature serializes R.x || z.
func NewSignature(R *curve.Point, z *curve.Scalar) Signature {
	sig := make([]byte, 0, SignatureLen)
	sig = append(sig, R.XBytes()...)
	sig = append(sig, z.Bytes()...)
	return sig
}

// String returns the hex encoding of sig.
func (sig Signature) String() string {
	return hex.EncodeToString(sig)
}

// MarshalText implements encoding.TextMarshaler.
func (sig Signature) MarshalText() ([]byte, error) {
	return []byte(sig.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (sig *Signature) UnmarshalText(text []byte) error {
	data, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}
	if len(data) != SignatureLen {
		return fmt.Errorf("taproot: invalid signature length %d", len(data))
	}
	*sig = data
	return nil
}

// signatureCounter is an atomic counter used to add some fault
// resistance in case we don't use a source of randomness for Sign
var signatureCounter uint64

// Sign uses a secret key to create a new signature.
//
// Note that m should be the hash of a message, and not the actual message.
//
// This accepts a source of randomness, but nil can be passed to use entirely
// deterministic signatures.
//
// Without randomness, an atomic counter is used to also hedge against attacks.
func (sk SecretKey) Sign(rand io.Reader, m []byte) (Signature, error) {
	// See: https://github.com/bitcoin/bips/blob/master/bip-0340.mediawiki#default-signing
	d := new(curve.Scalar)
	if err := d.UnmarshalBinary(sk); err != nil || d.IsZero() {
		return nil, fmt.Errorf("invalid secret key")
	}

	P := d.ActOnBase()
	PBytes := P.XBytes()

	if !P.HasEvenY() {
		d.Negate()
	}

	a := make([]byte, 32)
	k := new(curve.Scalar)
	for k.IsZero() {
		if rand != nil {
			if _, err := io.ReadFull(rand, a); err != nil {
				return nil, err
			}
		} else {
			ctr := atomic.AddUint64(&signatureCounter, 1)
			binary.BigEndian.PutUint64(a, ctr)
		}

		t := d.Bytes()
		aHash := TaggedHash("BIP0340/aux", a)
		for i := 0; i < 32; i++ {
			t[i] ^= aHash[i]
		}

		k = curve.FromHash(TaggedHash("BIP0340/nonce", t, PBytes, m))
	}

	R := k.ActOnBase()
	if !R.HasEvenY() {
		k.Negate()
	}

	e := Challenge(R, P, m)
	z := e.Mul(d).Add(k)
	return NewSignature(R, z), nil
}

// Verify checks the integrity of a signature, using a public key.
//
// Note that m is the hash of a message, and not the message itself.
func (pk PublicKey) Verify(sig Signature, m []byte) bool {
	// See: https://github.com/bitcoin/bips/blob/master/bip-0340.mediawiki#verification
	if len(sig) != SignatureLen {
		return false
	}

	P, err := curve.LiftX(pk)
	if err != nil {
		return false
	}
	s := new(curve.Scalar)
	if err := s.UnmarshalBinary(sig[32:]); err != nil {
		return false
	}
	eHash := TaggedHash("BIP0340/challenge", sig[:32], pk, m)
	e := curve.FromHash(eHash)

	check := s.ActOnBase().Sub(e.Act(P))
	if check.IsIdentity() {
		return false
	}
	if !check.HasEvenY() {
		return false
	}
	return bytes.Equal(check.XBytes(), sig[:32])
}
