package keygen

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zkbitcoin/committee/pkg/math/curve"
	"github.com/zkbitcoin/committee/pkg/math/polynomial"
	"github.com/zkbitcoin/committee/pkg/math/sample"
	"github.com/zkbitcoin/committee/pkg/party"
	"github.com/zkbitcoin/committee/pkg/pool"
)

func checkOutput(t *testing.T, configs map[party.ID]*Config, public *PublicKeyPackage, n, threshold int) {
	require.Len(t, configs, n)
	require.NoError(t, public.Validate())
	assert.Equal(t, threshold, public.Threshold)
	assert.Equal(t, party.Sequential(n), public.PartyIDs())

	Y, err := public.GroupKey()
	require.NoError(t, err)
	assert.True(t, Y.HasEvenY())

	for id, c := range configs {
		require.Equal(t, id, c.ID)
		require.NoError(t, c.Validate())
		assert.Equal(t, public.PublicKey, c.PublicKey)
	}

	// Any t shares interpolate to the secret key.
	signers := party.Sequential(n)[n-threshold:]
	lagrange := polynomial.Lagrange(signers)
	secret := curve.NewScalar()
	for _, id := range signers {
		secret.Add(curve.NewScalar().Set(lagrange[id]).Mul(configs[id].PrivateShare))
	}
	assert.True(t, secret.ActOnBase().Equal(Y))
}

func TestDeal(t *testing.T) {
	pl := pool.NewPool(0)
	defer pl.TearDown()

	for _, tc := range []struct{ n, t int }{{1, 1}, {3, 2}, {3, 3}, {5, 1}, {7, 4}} {
		configs, public, err := Deal(rand.Reader, pl, tc.n, tc.t)
		require.NoError(t, err)
		checkOutput(t, configs, public, tc.n, tc.t)
	}
}

func TestDealAlwaysEven(t *testing.T) {
	for i := 0; i < 32; i++ {
		_, public, err := Deal(rand.Reader, nil, 3, 2)
		require.NoError(t, err)
		Y, err := public.GroupKey()
		require.NoError(t, err)
		require.True(t, Y.HasEvenY())
		require.True(t, Y.Equal(public.Commitment.Constant()))
	}
}

func TestDealInvalidParameters(t *testing.T) {
	for _, tc := range []struct{ n, t int }{{0, 0}, {3, 0}, {3, 4}, {-1, 1}, {party.MaxID + 1, 1}} {
		_, _, err := Deal(rand.Reader, nil, tc.n, tc.t)
		assert.True(t, errors.Is(err, ErrInvalidParameters), "n=%d t=%d", tc.n, tc.t)
	}
}

func TestDealBrokenRandomness(t *testing.T) {
	_, _, err := Deal(sample.ErrReader{}, nil, 3, 2)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrInvalidParameters))
}

func TestConfigValidateRejectsTampering(t *testing.T) {
	configs, _, err := Deal(rand.Reader, nil, 3, 2)
	require.NoError(t, err)

	c := configs[1]
	c.PrivateShare = curve.NewScalar().Set(c.PrivateShare).Add(curve.NewScalarUInt32(1))
	assert.Error(t, c.Validate())

	other := configs[2]
	other.Threshold = 3
	assert.Error(t, other.Validate())
}

func TestMarshal(t *testing.T) {
	configs, public, err := Deal(rand.Reader, nil, 4, 3)
	require.NoError(t, err)

	data, err := cbor.Marshal(configs[2])
	require.NoError(t, err)
	decoded := new(Config)
	require.NoError(t, cbor.Unmarshal(data, decoded))
	require.NoError(t, decoded.Validate())
	assert.True(t, decoded.PrivateShare.Equal(configs[2].PrivateShare))

	jsonData, err := json.Marshal(public)
	require.NoError(t, err)
	decodedPublic := new(PublicKeyPackage)
	require.NoError(t, json.Unmarshal(jsonData, decodedPublic))
	require.NoError(t, decodedPublic.Validate())
	assert.Equal(t, public.PublicKey, decodedPublic.PublicKey)
}
