package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zkbitcoin/committee/internal/api"
	"github.com/zkbitcoin/committee/internal/config"
	"github.com/zkbitcoin/committee/internal/keystore"
)

func run(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func TestGenerateCommittee(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, run(t, "generate-committee", "-n", "4", "-t", "3", "-o", dir))

	public, err := keystore.ReadPublic(filepath.Join(dir, keystore.PublicKeyPackageFile))
	require.NoError(t, err)
	assert.Equal(t, 3, public.Threshold)

	committee, err := config.LoadCommittee(filepath.Join(dir, config.CommitteeFile))
	require.NoError(t, err)
	assert.Len(t, committee.Members, 4)
	assert.Equal(t, "http://127.0.0.1:8894", committee.Members[4].Address)

	for _, id := range committee.IDs() {
		share, err := keystore.ReadShare(filepath.Join(dir, keystore.ShareFile(id)), nil)
		require.NoError(t, err)
		assert.Equal(t, public.PublicKey, share.PublicKey)
	}
}

func TestGenerateCommitteeSealed(t *testing.T) {
	dir := t.TempDir()
	err := run(t, "generate-committee", "-n", "2", "-t", "2", "-o", dir, "--seal")
	assert.ErrorIs(t, err, api.ErrConfiguration)

	t.Setenv("ZKBTC_KEY_PASSPHRASE", "hunter2")
	require.NoError(t, run(t, "generate-committee", "-n", "2", "-t", "2", "-o", dir, "--seal"))
	_, err = keystore.ReadShare(filepath.Join(dir, keystore.ShareFile(1)), nil)
	assert.ErrorIs(t, err, api.ErrConfiguration)
	_, err = keystore.ReadShare(filepath.Join(dir, keystore.ShareFile(1)), []byte("hunter2"))
	assert.NoError(t, err)
}

func TestGenerateCommitteeBadThreshold(t *testing.T) {
	err := run(t, "generate-committee", "-n", "2", "-t", "3", "-o", t.TempDir(), "--seal=false")
	assert.ErrorIs(t, err, api.ErrConfiguration)
}

func TestParseProofInputs(t *testing.T) {
	inputs, err := parseProofInputs(`["12", 34, "21888242871839275222246405745257275088548364400416034343698204186575808495616"]`)
	require.NoError(t, err)
	assert.Equal(t, []string{"12", "34", "21888242871839275222246405745257275088548364400416034343698204186575808495616"}, inputs)

	for _, bad := range []string{`{"a": 1}`, `["-1"]`, `[1.5]`, `[true]`, `["21888242871839275222246405745257275088548364400416034343698204186575808495617"]`} {
		_, err = parseProofInputs(bad)
		assert.ErrorIs(t, err, api.ErrInvalidRequest, bad)
	}
}
