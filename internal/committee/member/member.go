// Package member implements a committee member: it holds one key share and
// answers the two signing rounds of the orchestrator.
package member

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/zkbitcoin/committee/internal/api"
	"github.com/zkbitcoin/committee/internal/metrics"
	"github.com/zkbitcoin/committee/pkg/party"
	"github.com/zkbitcoin/committee/pkg/pool"
	"github.com/zkbitcoin/committee/protocols/frost/keygen"
	"github.com/zkbitcoin/committee/protocols/frost/sign"
	"go.uber.org/zap"
)

const (
	// DefaultSessionTTL is how long an unused nonce is kept.
	DefaultSessionTTL = 2 * time.Minute
	// DefaultMaxSessions bounds the number of open sessions.
	DefaultMaxSessions = 1024
	// DefaultTombstoneTTL is how long a used session id is refused.
	DefaultTombstoneTTL = 24 * time.Hour
	// DefaultMaxTombstones bounds the number of remembered session ids.
	DefaultMaxTombstones = 1 << 16
)

// Config bounds the session table.
type Config struct {
	// SessionTTL is how long an open session keeps its nonce.
	SessionTTL time.Duration `mapstructure:"session_ttl"`
	// MaxSessions is the number of sessions open at once; the oldest is dropped past it.
	MaxSessions int `mapstructure:"max_sessions"`
	// TombstoneTTL is how long a session id stays unusable after it was opened.
	// It should be well above SessionTTL.
	TombstoneTTL time.Duration `mapstructure:"tombstone_ttl"`
	// MaxTombstones bounds the set of remembered ids.
	MaxTombstones int `mapstructure:"max_tombstones"`
}

func (c Config) withDefaults() Config {
	if c.SessionTTL <= 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = DefaultMaxSessions
	}
	if c.TombstoneTTL <= 0 {
		c.TombstoneTTL = DefaultTombstoneTTL
	}
	if c.TombstoneTTL < c.SessionTTL {
		c.TombstoneTTL = c.SessionTTL
	}
	if c.MaxTombstones < c.MaxSessions {
		c.MaxTombstones = c.MaxSessions
	}
	return c
}

type session struct {
	nonce      *sign.Nonce
	commitment *sign.Commitment
	message    []byte
	opened     time.Time
	// taken is set once Sign owns the nonce, so eviction leaves it alone.
	taken atomic.Bool
}

// Service is a committee member.
type Service struct {
	share   *keygen.Config
	rand    io.Reader
	logger  *zap.Logger
	metrics *metrics.Metrics

	// mu serializes lookups and removals on the session table, so that a
	// nonce is handed to at most one Sign call.
	mu       sync.Mutex
	sessions *expirable.LRU[uuid.UUID, *session]
	seen     *expirable.LRU[uuid.UUID, struct{}]
}

// New returns a member holding share, drawing nonces from rand.
//
// rand may be shared with other goroutines. logger and m may be nil.
func New(share *keygen.Config, rand io.Reader, cfg Config, logger *zap.Logger, m *metrics.Metrics) (*Service, error) {
	if share == nil {
		return nil, api.Errorf(api.ErrConfiguration, "missing key share")
	}
	if err := share.Validate(); err != nil {
		return nil, api.Wrap(api.ErrConfiguration, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}
	cfg = cfg.withDefaults()
	logger = logger.With(zap.Stringer("member", share.ID))

	s := &Service{
		share:   share,
		rand:    pool.NewLockedReader(rand),
		logger:  logger,
		metrics: m,
	}
	s.sessions = expirable.NewLRU[uuid.UUID, *session](cfg.MaxSessions, s.evict, cfg.SessionTTL)
	s.seen = expirable.NewLRU[uuid.UUID, struct{}](cfg.MaxTombstones, nil, cfg.TombstoneTTL)
	return s, nil
}

// evict runs whenever a session leaves the table: on expiry, on overflow and
// on removal by Sign.
func (s *Service) evict(id uuid.UUID, sess *session) {
	if sess.taken.Load() {
		return
	}
	sess.nonce.Zeroize()
	s.logger.Debug("session purged", zap.Stringer("session", id), zap.Duration("age", time.Since(sess.opened)))
}

// ID returns the member's ID.
func (s *Service) ID() party.ID {
	return s.share.ID
}

// Share returns the member's key share.
func (s *Service) Share() *keygen.Config {
	return s.share
}

// Open returns the number of open sessions.
func (s *Service) Open() int {
	return s.sessions.Len()
}

// BeginSession opens session id for message, and returns the member's commitment.
//
// A session id can be opened once. Reopening it fails with
// api.ErrSessionAlreadyUsed, even after the session was consumed or purged.
func (s *Service) BeginSession(_ context.Context, id uuid.UUID, message []byte) (*sign.Commitment, error) {
	if id == uuid.Nil {
		return nil, api.Errorf(api.ErrInvalidRequest, "nil session id")
	}
	if len(message) == 0 {
		return nil, api.Errorf(api.ErrInvalidRequest, "empty message")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seen.Contains(id) {
		return nil, api.Errorf(api.ErrSessionAlreadyUsed, "%s", id)
	}
	nonce, commitment, err := sign.Commit(s.rand, s.share.ID)
	if err != nil {
		return nil, api.Wrap(api.ErrInternal, err)
	}
	s.seen.Add(id, struct{}{})
	s.sessions.Add(id, &session{
		nonce:      nonce,
		commitment: commitment,
		message:    bytes.Clone(message),
		opened:     time.Now(),
	})
	s.metrics.SessionsBegun.Inc(1)
	s.logger.Debug("session opened", zap.Stringer("session", id))
	return commitment, nil
}

// Sign returns the member's share for session id, over message, with the given
// signing set commitments.
//
// A failed check on the message or the commitments leaves the session open.
// Otherwise the session is consumed, and a second call fails with
// api.ErrSessionNotFound.
func (s *Service) Sign(_ context.Context, id uuid.UUID, commitments []*sign.Commitment, message []byte) (*sign.Share, error) {
	sess, err := s.take(id, commitments, message)
	if err != nil {
		return nil, err
	}
	share, err := sign.SignShare(s.share, sess.nonce, message, commitments)
	switch {
	case errors.Is(err, sign.ErrNonceUsed):
		return nil, api.Errorf(api.ErrSessionNotFound, "%s", id)
	case err != nil:
		return nil, api.Wrap(api.ErrInvalidCommitments, err)
	}
	s.metrics.SharesIssued.Inc(1)
	s.logger.Debug("share issued", zap.Stringer("session", id), zap.Int("signers", len(commitments)))
	return share, nil
}

// take checks the request against the open session and removes it from the table.
func (s *Service) take(id uuid.UUID, commitments []*sign.Commitment, message []byte) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions.Peek(id)
	if !ok {
		return nil, api.Errorf(api.ErrSessionNotFound, "%s", id)
	}
	if !bytes.Equal(sess.message, message) {
		return nil, api.Errorf(api.ErrMessageMismatch, "%s", id)
	}
	if err := s.checkCommitments(sess, message, commitments); err != nil {
		return nil, err
	}

	sess.taken.Store(true)
	if !s.sessions.Remove(id) {
		// expired between Peek and Remove
		sess.nonce.Zeroize()
		return nil, api.Errorf(api.ErrSessionNotFound, "%s", id)
	}
	return sess, nil
}

func (s *Service) checkCommitments(sess *session, message []byte, commitments []*sign.Commitment) error {
	signing, err := sign.NewSigning(s.share.PublicKey, message, commitments)
	if err != nil {
		return api.Wrap(api.ErrInvalidCommitments, err)
	}
	if len(signing.IDs) < s.share.Threshold {
		return api.Errorf(api.ErrInvalidCommitments, "%d signers, need %d", len(signing.IDs), s.share.Threshold)
	}
	for _, l := range signing.IDs {
		if _, ok := s.share.VerificationShares[l]; !ok {
			return api.Errorf(api.ErrInvalidCommitments, "unknown member %s", l)
		}
	}
	own, ok := signing.Commitments[s.share.ID]
	if !ok {
		return api.Errorf(api.ErrInvalidCommitments, "no commitment from %s", s.share.ID)
	}
	if !own.Equal(sess.commitment) {
		return api.Errorf(api.ErrInvalidCommitments, "commitment of %s was altered", s.share.ID)
	}
	return nil
}

// Close drops every open session, zeroing their nonces.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions.Purge()
}

func (s *Service) String() string {
	return fmt.Sprintf("member %s", s.share.ID)
}
