package member

import (
	"crypto/rand"
	"crypto/sha256"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zkbitcoin/committee/internal/api"
	"github.com/zkbitcoin/committee/pkg/party"
	"github.com/zkbitcoin/committee/protocols/frost/keygen"
	"github.com/zkbitcoin/committee/protocols/frost/sign"
	"go.uber.org/zap/zaptest"
)

func newCommittee(t *testing.T, n, threshold int, cfg Config) (map[party.ID]*Service, *keygen.PublicKeyPackage) {
	configs, public, err := keygen.Deal(rand.Reader, nil, n, threshold)
	require.NoError(t, err)
	members := make(map[party.ID]*Service, n)
	for id, c := range configs {
		m, err := New(c, rand.Reader, cfg, zaptest.NewLogger(t), nil)
		require.NoError(t, err)
		members[id] = m
	}
	return members, public
}

func message(s string) []byte {
	m := sha256.Sum256([]byte(s))
	return m[:]
}

func TestSigning(t *testing.T) {
	members, public := newCommittee(t, 3, 2, Config{})
	ctx := t.Context()
	id := uuid.New()
	m := message("sighash")

	signers := []party.ID{3, 1}
	commitments := make([]*sign.Commitment, 0, len(signers))
	for _, l := range signers {
		c, err := members[l].BeginSession(ctx, id, m)
		require.NoError(t, err)
		commitments = append(commitments, c)
	}

	shares := make([]*sign.Share, 0, len(signers))
	for _, l := range signers {
		share, err := members[l].Sign(ctx, id, commitments, m)
		require.NoError(t, err)
		shares = append(shares, share)
		assert.Equal(t, 0, members[l].Open())
	}

	s, err := sign.NewSigning(public.PublicKey, m, commitments)
	require.NoError(t, err)
	sig, err := s.Aggregate(shares, public.VerificationShares)
	require.NoError(t, err)
	assert.True(t, public.PublicKey.Verify(sig, m))
}

func TestBeginSessionTwice(t *testing.T) {
	members, _ := newCommittee(t, 2, 2, Config{})
	m := members[1]
	id := uuid.New()

	_, err := m.BeginSession(t.Context(), id, message("a"))
	require.NoError(t, err)
	_, err = m.BeginSession(t.Context(), id, message("a"))
	assert.ErrorIs(t, err, api.ErrSessionAlreadyUsed)
	_, err = m.BeginSession(t.Context(), id, message("b"))
	assert.ErrorIs(t, err, api.ErrSessionAlreadyUsed)
}

func TestBeginSessionRejectsEmpty(t *testing.T) {
	members, _ := newCommittee(t, 2, 2, Config{})
	_, err := members[1].BeginSession(t.Context(), uuid.Nil, message("a"))
	assert.ErrorIs(t, err, api.ErrInvalidRequest)
	_, err = members[1].BeginSession(t.Context(), uuid.New(), nil)
	assert.ErrorIs(t, err, api.ErrInvalidRequest)
}

func TestSignWithoutSession(t *testing.T) {
	members, _ := newCommittee(t, 2, 2, Config{})
	_, c, err := sign.Commit(rand.Reader, 1)
	require.NoError(t, err)
	_, err = members[1].Sign(t.Context(), uuid.New(), []*sign.Commitment{c}, message("a"))
	assert.ErrorIs(t, err, api.ErrSessionNotFound)
}

// begin opens id on both members of a 2-of-2 committee.
func begin(t *testing.T, members map[party.ID]*Service, id uuid.UUID, m []byte) []*sign.Commitment {
	var commitments []*sign.Commitment
	for _, l := range []party.ID{1, 2} {
		c, err := members[l].BeginSession(t.Context(), id, m)
		require.NoError(t, err)
		commitments = append(commitments, c)
	}
	return commitments
}

func TestSignTwice(t *testing.T) {
	members, _ := newCommittee(t, 2, 2, Config{})
	id, m := uuid.New(), message("a")
	commitments := begin(t, members, id, m)

	_, err := members[1].Sign(t.Context(), id, commitments, m)
	require.NoError(t, err)
	_, err = members[1].Sign(t.Context(), id, commitments, m)
	assert.ErrorIs(t, err, api.ErrSessionNotFound)
	_, err = members[1].BeginSession(t.Context(), id, m)
	assert.ErrorIs(t, err, api.ErrSessionAlreadyUsed)
}

func TestRejectedSignKeepsSession(t *testing.T) {
	members, _ := newCommittee(t, 2, 2, Config{})
	id, m := uuid.New(), message("a")
	commitments := begin(t, members, id, m)

	_, err := members[1].Sign(t.Context(), id, commitments, message("b"))
	assert.ErrorIs(t, err, api.ErrMessageMismatch)

	_, other, err := sign.Commit(rand.Reader, 1)
	require.NoError(t, err)
	_, err = members[1].Sign(t.Context(), id, []*sign.Commitment{other, commitments[1]}, m)
	assert.ErrorIs(t, err, api.ErrInvalidCommitments)

	_, err = members[1].Sign(t.Context(), id, []*sign.Commitment{commitments[1]}, m)
	assert.ErrorIs(t, err, api.ErrInvalidCommitments)

	_, err = members[1].Sign(t.Context(), id, []*sign.Commitment{commitments[0], commitments[1], commitments[1]}, m)
	assert.ErrorIs(t, err, api.ErrInvalidCommitments)

	assert.Equal(t, 1, members[1].Open())
	_, err = members[1].Sign(t.Context(), id, commitments, m)
	assert.NoError(t, err)
}

func TestConcurrentSign(t *testing.T) {
	members, _ := newCommittee(t, 2, 2, Config{})
	id, m := uuid.New(), message("a")
	commitments := begin(t, members, id, m)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = members[2].Sign(t.Context(), id, commitments, m)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, api.ErrSessionNotFound)
	}
	assert.Equal(t, 1, succeeded)
}

func TestSessionExpires(t *testing.T) {
	members, _ := newCommittee(t, 2, 2, Config{SessionTTL: 50 * time.Millisecond})
	id, m := uuid.New(), message("a")
	commitments := begin(t, members, id, m)

	require.Eventually(t, func() bool { return members[1].Open() == 0 }, 5*time.Second, 20*time.Millisecond)
	_, err := members[1].Sign(t.Context(), id, commitments, m)
	assert.ErrorIs(t, err, api.ErrSessionNotFound)
	_, err = members[1].BeginSession(t.Context(), id, m)
	assert.ErrorIs(t, err, api.ErrSessionAlreadyUsed)
}

func TestClose(t *testing.T) {
	members, _ := newCommittee(t, 2, 2, Config{})
	id, m := uuid.New(), message("a")
	commitments := begin(t, members, id, m)

	members[1].Close()
	_, err := members[1].Sign(t.Context(), id, commitments, m)
	assert.ErrorIs(t, err, api.ErrSessionNotFound)
}

func TestNewRejectsBadShare(t *testing.T) {
	configs, _, err := keygen.Deal(rand.Reader, nil, 2, 2)
	require.NoError(t, err)
	bad := configs[1]
	bad.PrivateShare = configs[2].PrivateShare

	_, err = New(bad, rand.Reader, Config{}, nil, nil)
	assert.ErrorIs(t, err, api.ErrConfiguration)
	_, err = New(nil, rand.Reader, Config{}, nil, nil)
	assert.ErrorIs(t, err, api.ErrConfiguration)
}

func TestHandler(t *testing.T) {
	members, public := newCommittee(t, 2, 2, Config{})
	clients := make([]*api.MemberClient, 0, 2)
	for _, l := range []party.ID{1, 2} {
		server := httptest.NewServer(members[l].Handler())
		t.Cleanup(server.Close)
		clients = append(clients, api.NewMemberClient(l, server.URL, server.Client()))
	}

	id, m := uuid.New(), message("over http")
	var commitments []*sign.Commitment
	for _, c := range clients {
		commitment, err := c.BeginSession(t.Context(), id, m)
		require.NoError(t, err)
		commitments = append(commitments, commitment)
	}
	_, err := clients[0].BeginSession(t.Context(), id, m)
	assert.ErrorIs(t, err, api.ErrSessionAlreadyUsed)

	_, err = clients[0].Sign(t.Context(), id, commitments, message("other"))
	assert.ErrorIs(t, err, api.ErrMessageMismatch)

	var shares []*sign.Share
	for _, c := range clients {
		share, err := c.Sign(t.Context(), id, commitments, m)
		require.NoError(t, err)
		shares = append(shares, share)
	}
	_, err = clients[1].Sign(t.Context(), id, commitments, m)
	assert.ErrorIs(t, err, api.ErrSessionNotFound)

	s, err := sign.NewSigning(public.PublicKey, m, commitments)
	require.NoError(t, err)
	sig, err := s.Aggregate(shares, public.VerificationShares)
	require.NoError(t, err)
	assert.True(t, public.PublicKey.Verify(sig, m))
}
