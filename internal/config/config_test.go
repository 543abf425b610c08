package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zkbitcoin/committee/internal/api"
	"github.com/zkbitcoin/committee/internal/committee/member"
	"github.com/zkbitcoin/committee/pkg/party"
)

func TestCommitteeRoundTrip(t *testing.T) {
	c := LocalCommittee(3, 2)
	require.NoError(t, c.Validate())
	assert.Equal(t, "http://127.0.0.1:8892", c.Members[2].Address)
	assert.Equal(t, party.IDSlice{1, 2, 3}, c.IDs())

	path := filepath.Join(t.TempDir(), CommitteeFile)
	require.NoError(t, c.Save(path))
	loaded, err := LoadCommittee(path)
	require.NoError(t, err)
	assert.Equal(t, c, loaded)
}

func TestCommitteeValidate(t *testing.T) {
	for _, c := range []*Committee{
		LocalCommittee(3, 0),
		LocalCommittee(3, 4),
		{Threshold: 1, Members: map[party.ID]MemberInfo{0: {Address: "x"}}},
		{Threshold: 1, Members: map[party.ID]MemberInfo{1: {}}},
	} {
		assert.ErrorIs(t, c.Validate(), api.ErrConfiguration)
	}

	path := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"threshold": 3, "members": {"1": {"address": "a"}}}`), 0o600))
	_, err := LoadCommittee(path)
	assert.ErrorIs(t, err, api.ErrConfiguration)
}

func TestSettingsDefaults(t *testing.T) {
	s, err := Load(NewViper(), "")
	require.NoError(t, err)
	assert.Equal(t, member.DefaultSessionTTL, s.Member.SessionTTL)
	assert.Equal(t, 10*time.Second, s.Orchestrator.RoundTimeout)
	assert.Equal(t, "testnet", s.Network)
}

func TestSettingsOverrides(t *testing.T) {
	t.Setenv("ZKBTC_ORCHESTRATOR_ROUND_TIMEOUT", "3s")
	t.Setenv("ZKBTC_MEMBER_SESSION_TTL", "30s")

	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte("network: regtest\nlogging:\n  level: debug\n"), 0o600))

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("listen", "", "")
	require.NoError(t, flags.Parse([]string{"--listen", "0.0.0.0:9000"}))

	v := NewViper()
	require.NoError(t, Bind(v, flags, map[string]string{"listen": "listen"}))
	s, err := Load(v, path)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, s.Orchestrator.RoundTimeout)
	assert.Equal(t, 30*time.Second, s.Member.SessionTTL)
	assert.Equal(t, "regtest", s.Network)
	assert.Equal(t, "debug", s.Logging.Level)
	assert.Equal(t, "0.0.0.0:9000", s.Listen)

	assert.Error(t, Bind(v, flags, map[string]string{"missing": "listen"}))
}
