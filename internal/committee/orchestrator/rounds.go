package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/zkbitcoin/committee/internal/api"
	"github.com/zkbitcoin/committee/protocols/frost/sign"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type commitResult struct {
	member     Member
	commitment *sign.Commitment
}

// commitRound opens the session on every member, and keeps the first
// Threshold commitments to arrive. The remaining calls are cancelled.
func (s *Service) commitRound(ctx context.Context, logger *zap.Logger, sessionID uuid.UUID, message []byte) ([]Member, []*sign.Commitment, error) {
	defer s.metrics.CommitRound.UpdateSince(time.Now())
	t := s.public.Threshold

	ctx, cancel := context.WithTimeout(ctx, s.cfg.RoundTimeout)
	defer cancel()

	// buffered so that late members never block once we stop reading
	results := make(chan commitResult, len(s.members))
	var g errgroup.Group
	for _, member := range s.members {
		member := member
		g.Go(func() error {
			commitment, err := member.BeginSession(ctx, sessionID, message)
			if err != nil {
				s.peerFailed(ctx, logger, member, "begin session", err)
				return nil
			}
			if err = commitment.Validate(); err != nil {
				s.peerFailed(ctx, logger, member, "begin session", err)
				return nil
			}
			if commitment.ID != member.ID() {
				logger.Warn("member answered with a foreign commitment", zap.Stringer("member", member.ID()))
				return nil
			}
			results <- commitResult{member: member, commitment: commitment}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(results)
	}()

	signers := make([]Member, 0, t)
	commitments := make([]*sign.Commitment, 0, t)
	for r := range results {
		signers = append(signers, r.member)
		commitments = append(commitments, r.commitment)
		if len(signers) == t {
			cancel()
			break
		}
	}
	if len(signers) < t {
		return nil, nil, api.Errorf(api.ErrInsufficientCommittee, "%d of %d commitments", len(signers), t)
	}
	logger.Debug("commitments collected", zap.Int("signers", len(signers)))
	return signers, commitments, nil
}

// signRound asks every member of the signing set for its share. The set is
// fixed by the commitments, so any missing share fails the round.
func (s *Service) signRound(ctx context.Context, logger *zap.Logger, sessionID uuid.UUID, signers []Member, commitments []*sign.Commitment, message []byte) ([]*sign.Share, error) {
	defer s.metrics.SignRound.UpdateSince(time.Now())

	ctx, cancel := context.WithTimeout(ctx, s.cfg.RoundTimeout)
	defer cancel()

	shares := make([]*sign.Share, len(signers))
	var g errgroup.Group
	for i, member := range signers {
		i, member := i, member
		g.Go(func() error {
			share, err := member.Sign(ctx, sessionID, commitments, message)
			if err != nil {
				s.peerFailed(ctx, logger, member, "sign", err)
				cancel()
				return err
			}
			if share == nil || share.ID != member.ID() {
				logger.Warn("member answered with a foreign share", zap.Stringer("member", member.ID()))
				cancel()
				return api.Errorf(api.ErrInsufficientCommittee, "bad share from %s", member.ID())
			}
			shares[i] = share
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, api.Wrap(api.ErrInsufficientCommittee, err)
	}
	logger.Debug("shares collected", zap.Int("signers", len(shares)))
	return shares, nil
}

// peerFailed logs a member's failure. Timeouts are only warnings: the request
// goes on while a quorum answers.
func (s *Service) peerFailed(ctx context.Context, logger *zap.Logger, member Member, step string, err error) {
	fields := []zap.Field{zap.Stringer("member", member.ID()), zap.String("step", step), zap.Error(err)}
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		logger.Debug("member call cancelled", fields...)
	case errors.Is(err, api.ErrPeerTimeout), errors.Is(err, context.DeadlineExceeded):
		s.metrics.PeerTimeouts.Inc(1)
		logger.Warn("member timed out", fields...)
	default:
		logger.Warn("member failed", fields...)
	}
}
