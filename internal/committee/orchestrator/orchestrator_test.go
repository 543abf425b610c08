package orchestrator

import (
	"context"
	"crypto/rand"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zkbitcoin/committee/internal/api"
	"github.com/zkbitcoin/committee/internal/binder"
	"github.com/zkbitcoin/committee/internal/committee/member"
	"github.com/zkbitcoin/committee/internal/deployment"
	"github.com/zkbitcoin/committee/internal/txn"
	"github.com/zkbitcoin/committee/internal/verifier"
	"github.com/zkbitcoin/committee/internal/verifier/verifiertest"
	"github.com/zkbitcoin/committee/pkg/math/curve"
	"github.com/zkbitcoin/committee/pkg/party"
	"github.com/zkbitcoin/committee/pkg/taproot"
	"github.com/zkbitcoin/committee/protocols/frost/keygen"
	"github.com/zkbitcoin/committee/protocols/frost/sign"
	"go.uber.org/zap/zaptest"
)

var params = &chaincfg.RegressionNetParams

type fixture struct {
	public     *keygen.PublicKeyPackage
	members    map[party.ID]*member.Service
	deployment *deployment.Deployment
	registry   *deployment.Memory
	circuit    *verifiertest.Circuit
	recipient  string
}

func newFixture(t *testing.T, n, threshold int) *fixture {
	configs, public, err := keygen.Deal(rand.Reader, nil, n, threshold)
	require.NoError(t, err)
	members := make(map[party.ID]*member.Service, n)
	for id, c := range configs {
		m, err := member.New(c, rand.Reader, member.Config{}, zaptest.NewLogger(t), nil)
		require.NoError(t, err)
		members[id] = m
	}

	circuit := verifiertest.New(t, deployment.Stateless.NbPublicInputs())
	d := &deployment.Deployment{
		TxID:   chainhash.Hash{0xAB, 0xCD, 0x01},
		Vout:   0,
		VKHash: verifier.HashVerifyingKey(circuit.VK),
		Amount: 10_000,
	}

	_, bob, err := taproot.GenKey(rand.Reader)
	require.NoError(t, err)
	recipient, err := txn.P2TRAddress(bob, params)
	require.NoError(t, err)

	return &fixture{
		public:     public,
		members:    members,
		deployment: d,
		registry:   deployment.NewMemory(d),
		circuit:    circuit,
		recipient:  recipient,
	}
}

func (f *fixture) request(t *testing.T, fee int64) *api.UseRequest {
	inputs := []string{binder.FormatElement(binder.TxIDElement(f.deployment.TxID))}
	return &api.UseRequest{
		TxID:         f.deployment.TxID.String(),
		Vout:         f.deployment.Vout,
		Recipient:    f.recipient,
		Proof:        f.circuit.Prove(t, inputs),
		VerifyingKey: f.circuit.VK,
		PublicInputs: inputs,
		Template: api.TransactionTemplate{
			Version: 2,
			Inputs:  []api.TxIn{{TxID: f.deployment.TxID.String(), Vout: f.deployment.Vout, Sequence: wire.MaxTxInSequenceNum}},
			Outputs: []api.TxOut{{Address: f.recipient, Value: f.deployment.Amount - fee}},
			Fee:     fee,
		},
	}
}

// remote serves every member over HTTP, and returns clients for the given ones.
// The other members are not reachable.
func (f *fixture) remote(t *testing.T, up ...party.ID) []Member {
	var out []Member
	for id, m := range f.members {
		server := httptest.NewServer(m.Handler())
		if !party.NewIDSlice(up).Contains(id) {
			server.Close()
		} else {
			t.Cleanup(server.Close)
		}
		out = append(out, api.NewMemberClient(id, server.URL, server.Client()))
	}
	return out
}

func (f *fixture) local() []Member {
	var out []Member
	for _, m := range f.members {
		out = append(out, m)
	}
	return out
}

func (f *fixture) service(t *testing.T, members []Member) *Service {
	s, err := New(Config{RoundTimeout: 2 * time.Second, Params: params},
		f.public, members, f.registry, verifier.NewGroth16(), zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	return s
}

func checkUnlocked(t *testing.T, f *fixture, resp *api.UseResponse) {
	tx, err := txn.Decode(resp.UnlockedTx)
	require.NoError(t, err)
	assert.Equal(t, tx.TxHash().String(), resp.TxID)
	require.Len(t, tx.TxIn[0].Witness, 1)

	var sig taproot.Signature
	require.NoError(t, sig.UnmarshalText([]byte(resp.Signature)))
	assert.Equal(t, []byte(sig), tx.TxIn[0].Witness[0])

	script, err := txn.P2TRScript(f.public.PublicKey)
	require.NoError(t, err)
	fetcher, err := txn.PrevOutFetcher(tx, wire.NewTxOut(f.deployment.Amount, script), &api.TransactionTemplate{Inputs: make([]api.TxIn, len(tx.TxIn))}, params)
	require.NoError(t, err)
	sighash, err := txn.Sighash(tx, fetcher)
	require.NoError(t, err)
	assert.True(t, f.public.PublicKey.Verify(sig, sighash))

	parsedSig, err := schnorr.ParseSignature(sig)
	require.NoError(t, err)
	parsedKey, err := schnorr.ParsePubKey(f.public.PublicKey)
	require.NoError(t, err)
	assert.True(t, parsedSig.Verify(sighash, parsedKey))
}

func TestEndToEnd(t *testing.T) {
	f := newFixture(t, 3, 2)
	s := f.service(t, f.remote(t, 1, 2, 3))

	resp, err := s.HandleUseRequest(t.Context(), f.request(t, 500))
	require.NoError(t, err)
	checkUnlocked(t, f, resp)
	assert.EqualValues(t, 1, s.Metrics().Completed.Count())
}

func TestEndToEndOverHTTP(t *testing.T) {
	f := newFixture(t, 3, 2)
	s := f.service(t, f.local())
	server := httptest.NewServer(s.Handler(100))
	defer server.Close()

	client := api.NewOrchestratorClient(server.URL, server.Client())
	resp, err := client.Use(t.Context(), f.request(t, 0))
	require.NoError(t, err)
	checkUnlocked(t, f, resp)

	req := f.request(t, 0)
	req.TxID = "zz"
	_, err = client.Use(t.Context(), req)
	assert.ErrorIs(t, err, api.ErrInvalidRequest)
}

func TestInsufficientCommittee(t *testing.T) {
	f := newFixture(t, 3, 2)
	s := f.service(t, f.remote(t, 2))

	resp, err := s.HandleUseRequest(t.Context(), f.request(t, 500))
	assert.ErrorIs(t, err, api.ErrInsufficientCommittee)
	assert.Nil(t, resp)
	assert.EqualValues(t, 1, s.Metrics().Failures(api.CodeInsufficientCommittee).Count())
}

// slowMember never answers before its context ends.
type slowMember struct {
	id party.ID
}

func (m *slowMember) ID() party.ID { return m.id }

func (m *slowMember) BeginSession(ctx context.Context, _ uuid.UUID, _ []byte) (*sign.Commitment, error) {
	<-ctx.Done()
	return nil, api.Wrap(api.ErrPeerTimeout, ctx.Err())
}

func (m *slowMember) Sign(ctx context.Context, _ uuid.UUID, _ []*sign.Commitment, _ []byte) (*sign.Share, error) {
	<-ctx.Done()
	return nil, api.Wrap(api.ErrPeerTimeout, ctx.Err())
}

func TestQuorumDespiteSlowMember(t *testing.T) {
	f := newFixture(t, 3, 2)
	members := []Member{f.members[1], &slowMember{id: 2}, f.members[3]}
	s, err := New(Config{RoundTimeout: 200 * time.Millisecond, Params: params},
		f.public, members, f.registry, verifier.NewGroth16(), zaptest.NewLogger(t), nil)
	require.NoError(t, err)

	resp, err := s.HandleUseRequest(t.Context(), f.request(t, 0))
	require.NoError(t, err)
	checkUnlocked(t, f, resp)

	members = []Member{f.members[1], &slowMember{id: 2}, &slowMember{id: 3}}
	s, err = New(Config{RoundTimeout: 100 * time.Millisecond, Params: params},
		f.public, members, f.registry, verifier.NewGroth16(), zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	_, err = s.HandleUseRequest(t.Context(), f.request(t, 0))
	assert.ErrorIs(t, err, api.ErrInsufficientCommittee)
	assert.EqualValues(t, 2, s.Metrics().PeerTimeouts.Count())
}

// malformed answers the commit round at once with a commitment no signing set
// can use.
type malformed struct {
	id         party.ID
	commitment *sign.Commitment
}

func (m *malformed) ID() party.ID { return m.id }

func (m *malformed) BeginSession(context.Context, uuid.UUID, []byte) (*sign.Commitment, error) {
	return m.commitment, nil
}

func (m *malformed) Sign(context.Context, uuid.UUID, []*sign.Commitment, []byte) (*sign.Share, error) {
	return nil, api.ErrSessionNotFound
}

// delayed answers the commit round late, so that malformed replies arrive first.
type delayed struct {
	*member.Service
}

func (d *delayed) BeginSession(ctx context.Context, id uuid.UUID, message []byte) (*sign.Commitment, error) {
	select {
	case <-time.After(50 * time.Millisecond):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return d.Service.BeginSession(ctx, id, message)
}

func TestQuorumDespiteMalformedCommitment(t *testing.T) {
	for name, c := range map[string]*sign.Commitment{
		"nil":      nil,
		"empty":    {ID: 1},
		"identity": {ID: 1, D: curve.NewIdentityPoint(), E: curve.NewBasePoint()},
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, 3, 2)
			bad := &malformed{id: 1, commitment: c}
			s := f.service(t, []Member{bad, &delayed{f.members[2]}, &delayed{f.members[3]}})

			resp, err := s.HandleUseRequest(t.Context(), f.request(t, 0))
			require.NoError(t, err)
			checkUnlocked(t, f, resp)

			members := []Member{bad, &delayed{f.members[2]}, &slowMember{id: 3}}
			s, err = New(Config{RoundTimeout: 200 * time.Millisecond, Params: params},
				f.public, members, f.registry, verifier.NewGroth16(), zaptest.NewLogger(t), nil)
			require.NoError(t, err)
			_, err = s.HandleUseRequest(t.Context(), f.request(t, 0))
			assert.ErrorIs(t, err, api.ErrInsufficientCommittee)
		})
	}
}

// cheater hands out shares for the wrong secret.
type cheater struct {
	*member.Service
}

func (c *cheater) Sign(ctx context.Context, id uuid.UUID, commitments []*sign.Commitment, message []byte) (*sign.Share, error) {
	share, err := c.Service.Sign(ctx, id, commitments, message)
	if err != nil {
		return nil, err
	}
	share.Z.Add(share.Z)
	return share, nil
}

func TestAggregationFailureNamesCulprit(t *testing.T) {
	f := newFixture(t, 2, 2)
	s := f.service(t, []Member{f.members[1], &cheater{f.members[2]}})

	_, err := s.HandleUseRequest(t.Context(), f.request(t, 0))
	require.ErrorIs(t, err, api.ErrAggregationVerificationFailed)
	assert.Contains(t, err.Error(), "2")
	assert.EqualValues(t, 1, s.Metrics().Integrity.Count())
}

func TestRejectsBeforeSigning(t *testing.T) {
	f := newFixture(t, 3, 2)
	s := f.service(t, f.local())

	t.Run("unknown deployment", func(t *testing.T) {
		req := f.request(t, 0)
		req.TxID = chainhash.Hash{0x01}.String()
		_, err := s.HandleUseRequest(t.Context(), req)
		assert.ErrorIs(t, err, api.ErrDeploymentNotFound)
	})
	t.Run("other verifying key", func(t *testing.T) {
		req := f.request(t, 0)
		other := verifiertest.New(t, 1)
		req.VerifyingKey = other.VK
		req.Proof = other.Prove(t, req.PublicInputs)
		_, err := s.HandleUseRequest(t.Context(), req)
		assert.ErrorIs(t, err, api.ErrInvalidProof)
	})
	t.Run("proof for other inputs", func(t *testing.T) {
		req := f.request(t, 0)
		req.Proof = f.circuit.Prove(t, []string{"7"})
		_, err := s.HandleUseRequest(t.Context(), req)
		assert.ErrorIs(t, err, api.ErrInvalidProof)
	})
	t.Run("binding", func(t *testing.T) {
		req := f.request(t, 0)
		req.Template.Outputs[0].Value = 1
		_, err := s.HandleUseRequest(t.Context(), req)
		assert.ErrorIs(t, err, api.ErrBindingMismatch)
	})
	t.Run("validation", func(t *testing.T) {
		req := f.request(t, 0)
		req.PublicInputs = []string{"not a number"}
		_, err := s.HandleUseRequest(t.Context(), req)
		assert.ErrorIs(t, err, api.ErrInvalidRequest)
	})

	for _, m := range f.members {
		assert.Zero(t, m.Open())
	}
}

func TestNewChecksCommittee(t *testing.T) {
	f := newFixture(t, 3, 2)
	_, err := New(Config{}, f.public, []Member{f.members[1]}, f.registry, verifier.NewGroth16(), nil, nil)
	assert.ErrorIs(t, err, api.ErrConfiguration)
	_, err = New(Config{}, f.public, []Member{f.members[1], f.members[1]}, f.registry, verifier.NewGroth16(), nil, nil)
	assert.ErrorIs(t, err, api.ErrConfiguration)

	broken := *f.public
	broken.Threshold = 0
	_, err = New(Config{}, &broken, f.local(), f.registry, verifier.NewGroth16(), nil, nil)
	assert.ErrorIs(t, err, api.ErrConfiguration)
}
