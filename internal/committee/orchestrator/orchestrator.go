// Package orchestrator receives Bob's requests, checks them, and drives the
// committee through the two signing rounds.
package orchestrator

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/zkbitcoin/committee/internal/api"
	"github.com/zkbitcoin/committee/internal/binder"
	"github.com/zkbitcoin/committee/internal/deployment"
	"github.com/zkbitcoin/committee/internal/metrics"
	"github.com/zkbitcoin/committee/internal/txn"
	"github.com/zkbitcoin/committee/internal/verifier"
	"github.com/zkbitcoin/committee/pkg/party"
	"github.com/zkbitcoin/committee/pkg/taproot"
	"github.com/zkbitcoin/committee/protocols/frost/keygen"
	"github.com/zkbitcoin/committee/protocols/frost/sign"
	"go.uber.org/zap"
)

// DefaultRoundTimeout bounds each round of member calls.
const DefaultRoundTimeout = 10 * time.Second

// Member is a committee member, remote or in process.
type Member interface {
	ID() party.ID
	BeginSession(ctx context.Context, sessionID uuid.UUID, message []byte) (*sign.Commitment, error)
	Sign(ctx context.Context, sessionID uuid.UUID, commitments []*sign.Commitment, message []byte) (*sign.Share, error)
}

// Config holds the orchestrator settings.
type Config struct {
	// RoundTimeout bounds each of the two signing rounds.
	RoundTimeout time.Duration `mapstructure:"round_timeout"`
	// Params selects the bitcoin network. Nil means mainnet.
	Params *chaincfg.Params `mapstructure:"-"`
	// MaxFee caps the fee of a stateless unlock, in satoshis.
	MaxFee int64 `mapstructure:"max_fee"`
}

// Service is the orchestrator.
type Service struct {
	cfg      Config
	public   *keygen.PublicKeyPackage
	members  []Member
	registry deployment.Registry
	verifier verifier.Verifier
	binder   *binder.Binder
	validate *validator.Validate
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// New returns an orchestrator for the committee described by public.
//
// logger and m may be nil.
func New(cfg Config, public *keygen.PublicKeyPackage, members []Member, registry deployment.Registry, v verifier.Verifier, logger *zap.Logger, m *metrics.Metrics) (*Service, error) {
	if public == nil {
		return nil, api.Errorf(api.ErrConfiguration, "missing public key package")
	}
	if public.Threshold <= 0 {
		return nil, api.Errorf(api.ErrConfiguration, "threshold must be positive")
	}
	if err := public.Validate(); err != nil {
		return nil, api.Wrap(api.ErrConfiguration, err)
	}
	if registry == nil || v == nil {
		return nil, api.Errorf(api.ErrConfiguration, "missing registry or verifier")
	}
	if len(members) < public.Threshold {
		return nil, api.Errorf(api.ErrConfiguration, "%d members for a threshold of %d", len(members), public.Threshold)
	}
	seen := make(map[party.ID]bool, len(members))
	for _, member := range members {
		id := member.ID()
		if _, ok := public.VerificationShares[id]; !ok {
			return nil, api.Errorf(api.ErrConfiguration, "member %s is not in the committee", id)
		}
		if seen[id] {
			return nil, api.Errorf(api.ErrConfiguration, "member %s listed twice", id)
		}
		seen[id] = true
	}

	if cfg.RoundTimeout <= 0 {
		cfg.RoundTimeout = DefaultRoundTimeout
	}
	if cfg.Params == nil {
		cfg.Params = &chaincfg.MainNetParams
	}
	if cfg.MaxFee <= 0 {
		cfg.MaxFee = binder.DefaultMaxFee
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Service{
		cfg:      cfg,
		public:   public,
		members:  members,
		registry: registry,
		verifier: v,
		binder:   binder.New(cfg.Params, cfg.MaxFee),
		validate: validator.New(),
		logger:   logger,
		metrics:  m,
	}, nil
}

// Metrics returns the orchestrator's metrics.
func (s *Service) Metrics() *metrics.Metrics {
	return s.metrics
}

// State is a step of a request.
type State string

const (
	// Received is the state of a request that was accepted for processing.
	Received State = "received"
	// ProofChecked means the proof verified against the deployment's key.
	ProofChecked State = "proof_checked"
	// Bound means the transaction template matches the proof inputs.
	Bound State = "bound"
	// SigningInProgress covers both member rounds.
	SigningInProgress State = "signing_in_progress"
	// Aggregated means the signature was combined and verified.
	Aggregated State = "aggregated"
	// Completed is reached once the signed transaction is returned.
	Completed State = "completed"
	// Failed is terminal, and logged with the reason.
	Failed State = "failed"
)

// request tracks one UseRequest through its states.
type request struct {
	logger *zap.Logger
	state  State
	start  time.Time
}

func (r *request) to(state State, fields ...zap.Field) {
	r.logger.Info("request state",
		append(fields, zap.String("from", string(r.state)), zap.String("to", string(state)))...)
	r.state = state
}

func (r *request) fail(err error) {
	r.logger.Info("request state",
		zap.String("from", string(r.state)),
		zap.String("to", string(Failed)),
		zap.String("code", string(api.CodeOf(err))),
		zap.Error(err),
		zap.Duration("elapsed", time.Since(r.start)))
	r.state = Failed
}

// HandleUseRequest checks req and, if it holds, has the committee sign the
// unlocking transaction.
//
// Errors carry an api code. No step is retried; a new request starts over
// with a new session id.
func (s *Service) HandleUseRequest(ctx context.Context, req *api.UseRequest) (*api.UseResponse, error) {
	s.metrics.Requests.Mark(1)
	r := &request{
		logger: s.logger.With(zap.String("txid", req.TxID), zap.Uint32("vout", req.Vout)),
		state:  Received,
		start:  time.Now(),
	}
	r.logger.Info("request received", zap.String("recipient", req.Recipient))

	resp, err := s.handle(ctx, r, req)
	if err != nil {
		r.fail(err)
		s.metrics.Failure(err)
		return nil, err
	}
	s.metrics.Completed.Inc(1)
	r.to(Completed, zap.Duration("elapsed", time.Since(r.start)))
	return resp, nil
}

func (s *Service) handle(ctx context.Context, r *request, req *api.UseRequest) (*api.UseResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, api.Wrap(api.ErrInvalidRequest, err)
	}
	txid, err := chainhash.NewHashFromStr(req.TxID)
	if err != nil {
		return nil, api.Wrap(api.ErrInvalidRequest, err)
	}
	d, err := s.registry.Get(ctx, *txid)
	if err != nil {
		return nil, err
	}

	if err = s.checkProof(d, req); err != nil {
		return nil, err
	}
	r.to(ProofChecked, zap.Stringer("kind", d.Kind()))

	bound, err := s.binder.Bind(d, req, s.public.PublicKey)
	if err != nil {
		return nil, err
	}
	message, err := s.sighash(d, bound.Tx, &req.Template)
	if err != nil {
		return nil, err
	}
	r.to(Bound, zap.String("sighash", hex.EncodeToString(message)))

	sessionID := uuid.New()
	r.logger = r.logger.With(zap.Stringer("session", sessionID))
	r.to(SigningInProgress)
	sig, err := s.sign(ctx, r.logger, sessionID, message)
	if err != nil {
		return nil, err
	}
	r.to(Aggregated)

	if err = txn.AttachSignature(bound.Tx, sig); err != nil {
		return nil, api.Wrap(api.ErrInternal, err)
	}
	raw, err := txn.Encode(bound.Tx)
	if err != nil {
		return nil, api.Wrap(api.ErrInternal, err)
	}
	return &api.UseResponse{
		TxID:       bound.Tx.TxHash().String(),
		UnlockedTx: raw,
		Signature:  sig.String(),
	}, nil
}

// checkProof checks the verifying key against the deployment, then the proof.
func (s *Service) checkProof(d *deployment.Deployment, req *api.UseRequest) error {
	if verifier.HashVerifyingKey(req.VerifyingKey) != d.VKHash {
		return api.Errorf(api.ErrInvalidProof, "verifying key does not match the deployment")
	}
	nbPublic, err := s.verifier.NbPublicInputs(req.VerifyingKey)
	if err != nil {
		return api.Wrap(api.ErrInvalidProof, err)
	}
	if err = d.CheckVerifyingKey(nbPublic); err != nil {
		return api.Wrap(api.ErrInvalidProof, err)
	}
	ok, err := s.verifier.Verify(req.VerifyingKey, req.Proof, req.PublicInputs)
	if err != nil {
		return api.Wrap(api.ErrInvalidProof, err)
	}
	if !ok {
		return api.ErrInvalidProof
	}
	return nil
}

// sighash computes the key spend digest of the deployment input.
func (s *Service) sighash(d *deployment.Deployment, tx *wire.MsgTx, tmpl *api.TransactionTemplate) ([]byte, error) {
	script, err := txn.P2TRScript(s.public.PublicKey)
	if err != nil {
		return nil, api.Wrap(api.ErrInternal, err)
	}
	fetcher, err := txn.PrevOutFetcher(tx, wire.NewTxOut(d.Amount, script), tmpl, s.cfg.Params)
	if err != nil {
		return nil, api.Wrap(api.ErrBindingMismatch, err)
	}
	message, err := txn.Sighash(tx, fetcher)
	if err != nil {
		return nil, api.Wrap(api.ErrInternal, err)
	}
	return message, nil
}

// sign runs both rounds and aggregates the shares.
func (s *Service) sign(ctx context.Context, logger *zap.Logger, sessionID uuid.UUID, message []byte) (taproot.Signature, error) {
	signers, commitments, err := s.commitRound(ctx, logger, sessionID, message)
	if err != nil {
		return nil, err
	}
	// every commitment was checked as it arrived, so this only fails on a
	// degenerate group commitment
	signing, err := sign.NewSigning(s.public.PublicKey, message, commitments)
	if err != nil {
		return nil, api.Wrap(api.ErrInternal, err)
	}
	shares, err := s.signRound(ctx, logger, sessionID, signers, commitments, message)
	if err != nil {
		return nil, err
	}

	sig, err := signing.Aggregate(shares, s.public.VerificationShares)
	if err != nil {
		var aggErr *sign.AggregationError
		if errors.As(err, &aggErr) {
			s.metrics.Integrity.Inc(1)
			logger.Error("aggregated signature does not verify",
				zap.Bool("integrity", true),
				zap.String("culprits", fmt.Sprint(aggErr.Culprits)))
			return nil, api.Errorf(api.ErrAggregationVerificationFailed, "culprits %v", aggErr.Culprits)
		}
		return nil, api.Wrap(api.ErrAggregationVerificationFailed, err)
	}
	return sig, nil
}

func (s *Service) String() string {
	return fmt.Sprintf("orchestrator t=%d n=%d", s.public.Threshold, len(s.members))
}
