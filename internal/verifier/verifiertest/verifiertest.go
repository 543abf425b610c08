// Package verifiertest builds throwaway Groth16 circuits for tests.
package verifiertest

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/stretchr/testify/require"
)

// sumCircuit proves knowledge of the sum of its public inputs, which makes any
// assignment of the public inputs provable.
type sumCircuit struct {
	Inputs []frontend.Variable `gnark:",public"`
	Sum    frontend.Variable
}

func (c *sumCircuit) Define(api frontend.API) error {
	acc := frontend.Variable(0)
	for _, in := range c.Inputs {
		acc = api.Add(acc, in)
	}
	api.AssertIsEqual(acc, c.Sum)
	return nil
}

// Circuit is a compiled circuit with its keys.
type Circuit struct {
	ccs constraint.ConstraintSystem
	pk  groth16.ProvingKey
	// VK is the serialized verifying key.
	VK []byte
	nb int
}

// New compiles a circuit with nbPublic public inputs.
func New(t testing.TB, nbPublic int) *Circuit {
	t.Helper()
	circuit := &sumCircuit{Inputs: make([]frontend.Variable, nbPublic)}
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, circuit)
	require.NoError(t, err)
	pk, vk, err := groth16.Setup(ccs)
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = vk.WriteTo(&buf)
	require.NoError(t, err)
	return &Circuit{ccs: ccs, pk: pk, VK: buf.Bytes(), nb: nbPublic}
}

// Prove returns a serialized proof for the decimal public inputs.
func (c *Circuit) Prove(t testing.TB, inputs []string) []byte {
	t.Helper()
	require.Len(t, inputs, c.nb)

	assignment := &sumCircuit{Inputs: make([]frontend.Variable, c.nb)}
	sum := new(big.Int)
	for i, s := range inputs {
		v, ok := new(big.Int).SetString(s, 10)
		require.True(t, ok)
		assignment.Inputs[i] = v
		sum.Add(sum, v)
	}
	assignment.Sum = sum.Mod(sum, ecc.BN254.ScalarField())

	w, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	require.NoError(t, err)
	proof, err := groth16.Prove(c.ccs, c.pk, w)
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = proof.WriteTo(&buf)
	require.NoError(t, err)
	return buf.Bytes()
}
