package member

import (
	"io"
	"net/http"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/mux"
	"github.com/zkbitcoin/committee/internal/api"
	"go.uber.org/zap"
)

const maxRequestBytes = 1 << 20

// Handler returns the HTTP interface of s.
func (s *Service) Handler() http.Handler {
	r := mux.NewRouter()
	s.Routes(r)
	return api.Recover(s.logger, r)
}

// Routes registers the member endpoints on r.
func (s *Service) Routes(r *mux.Router) {
	r.HandleFunc("/session/begin", s.handleBegin).Methods(http.MethodPost)
	r.HandleFunc("/session/sign", s.handleSign).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
}

func (s *Service) handleBegin(w http.ResponseWriter, r *http.Request) {
	var req api.SessionBeginRequest
	if err := decodeCBOR(r, &req); err != nil {
		api.RespondCBOR(w, nil, err)
		return
	}
	commitment, err := s.BeginSession(r.Context(), req.SessionID, req.Message)
	if err != nil {
		s.logger.Info("begin session rejected", zap.Stringer("session", req.SessionID), zap.Error(err))
		s.metrics.Failure(err)
	}
	api.RespondCBOR(w, commitment, err)
}

func (s *Service) handleSign(w http.ResponseWriter, r *http.Request) {
	var req api.SessionSignRequest
	if err := decodeCBOR(r, &req); err != nil {
		api.RespondCBOR(w, nil, err)
		return
	}
	share, err := s.Sign(r.Context(), req.SessionID, req.Commitments, req.Message)
	if err != nil {
		s.logger.Info("sign rejected", zap.Stringer("session", req.SessionID), zap.Error(err))
		s.metrics.Failure(err)
	}
	api.RespondCBOR(w, share, err)
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	api.RespondJSON(w, &api.Health{Status: "ok", Role: "member", ID: uint16(s.share.ID)}, nil)
}

func decodeCBOR(r *http.Request, out interface{}) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		return api.Wrap(api.ErrInvalidRequest, err)
	}
	if err = cbor.Unmarshal(data, out); err != nil {
		return api.Wrap(api.ErrInvalidRequest, err)
	}
	return nil
}
