package orchestrator

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/didip/tollbooth"
	"github.com/didip/tollbooth/limiter"
	"github.com/gorilla/mux"
	"github.com/zkbitcoin/committee/internal/api"
	"go.uber.org/zap"
)

// maxRequestBytes bounds a UseRequest, which carries a proof and a verifying key.
const maxRequestBytes = 4 << 20

// Handler returns the HTTP interface of s.
//
// When rateLimit is positive, POST /bob accepts at most that many requests
// per second from one address.
func (s *Service) Handler(rateLimit float64) http.Handler {
	r := mux.NewRouter()

	var bob http.Handler = http.HandlerFunc(s.handleBob)
	if rateLimit > 0 {
		lmt := tollbooth.NewLimiter(rateLimit, &limiter.ExpirableOptions{DefaultExpirationTTL: time.Hour}).
			SetIPLookups([]string{"RemoteAddr", "X-Forwarded-For", "X-Real-IP"}).
			SetMethods([]string{http.MethodPost})
		bob = tollbooth.LimitHandler(lmt, bob)
	}
	r.Handle("/bob", bob).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	return api.Recover(s.logger, r)
}

func (s *Service) handleBob(w http.ResponseWriter, r *http.Request) {
	req := new(api.UseRequest)
	data, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		api.RespondJSON(w, nil, api.Wrap(api.ErrInvalidRequest, err))
		return
	}
	if err = json.Unmarshal(data, req); err != nil {
		s.logger.Info("malformed request", zap.String("remote address", r.RemoteAddr), zap.Error(err))
		api.RespondJSON(w, nil, api.Wrap(api.ErrInvalidRequest, err))
		return
	}
	resp, err := s.HandleUseRequest(r.Context(), req)
	api.RespondJSON(w, resp, err)
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	api.RespondJSON(w, &api.Health{Status: "ok", Role: "orchestrator"}, nil)
}
