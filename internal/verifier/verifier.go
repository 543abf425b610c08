// Package verifier checks zero-knowledge proofs on behalf of the orchestrator.
package verifier

import (
	"bytes"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/witness"
	"github.com/zkbitcoin/committee/internal/binder"
	"github.com/zkbitcoin/committee/internal/hash"
)

// Verifier checks a proof against a verifying key and its public inputs.
//
// The boolean is the verdict. An error means the key, proof or inputs could
// not be decoded.
type Verifier interface {
	Verify(vk []byte, proof []byte, publicInputs []string) (bool, error)
	// NbPublicInputs returns the number of public inputs vk expects.
	NbPublicInputs(vk []byte) (int, error)
}

// HashVerifyingKey returns the BLAKE3-256 digest of a serialized verifying key.
//
// This is the hash recorded on chain by a deployment.
func HashVerifyingKey(vk []byte) [32]byte {
	return hash.Sum256(vk)
}

// Groth16 verifies gnark Groth16 proofs over BN254.
type Groth16 struct{}

// NewGroth16 returns a Groth16 verifier.
func NewGroth16() *Groth16 {
	return &Groth16{}
}

func readVerifyingKey(vk []byte) (groth16.VerifyingKey, error) {
	key := groth16.NewVerifyingKey(ecc.BN254)
	if _, err := key.ReadFrom(bytes.NewReader(vk)); err != nil {
		return nil, fmt.Errorf("verifier: verifying key: %w", err)
	}
	return key, nil
}

// NbPublicInputs implements Verifier.
func (*Groth16) NbPublicInputs(vk []byte) (int, error) {
	key, err := readVerifyingKey(vk)
	if err != nil {
		return 0, err
	}
	return key.NbPublicWitness(), nil
}

// Verify implements Verifier.
func (*Groth16) Verify(vk []byte, proof []byte, publicInputs []string) (bool, error) {
	key, err := readVerifyingKey(vk)
	if err != nil {
		return false, err
	}
	p := groth16.NewProof(ecc.BN254)
	if _, err = p.ReadFrom(bytes.NewReader(proof)); err != nil {
		return false, fmt.Errorf("verifier: proof: %w", err)
	}

	if n := key.NbPublicWitness(); n != len(publicInputs) {
		return false, fmt.Errorf("verifier: verifying key expects %d public inputs, got %d", n, len(publicInputs))
	}
	elements, err := binder.ParseElements(publicInputs)
	if err != nil {
		return false, fmt.Errorf("verifier: %w", err)
	}
	public, err := witness.New(ecc.BN254.ScalarField())
	if err != nil {
		return false, fmt.Errorf("verifier: %w", err)
	}
	values := make(chan any, len(elements))
	for _, e := range elements {
		values <- e
	}
	close(values)
	if err = public.Fill(len(elements), 0, values); err != nil {
		return false, fmt.Errorf("verifier: public witness: %w", err)
	}

	return groth16.Verify(p, key, public) == nil, nil
}
