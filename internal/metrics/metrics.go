// Package metrics keeps the counters and timers of a committee node.
package metrics

import (
	"net/http"

	"github.com/rcrowley/go-metrics"
	"github.com/zkbitcoin/committee/internal/api"
)

// Metrics is a per-node registry. Nodes never share one, so tests can
// inspect a fresh instance.
type Metrics struct {
	registry metrics.Registry

	Requests      metrics.Meter
	Completed     metrics.Counter
	CommitRound   metrics.Timer
	SignRound     metrics.Timer
	Integrity     metrics.Counter
	PeerTimeouts  metrics.Counter
	SessionsBegun metrics.Counter
	SharesIssued  metrics.Counter
}

// New returns a Metrics backed by a fresh registry.
func New() *Metrics {
	r := metrics.NewRegistry()
	return &Metrics{
		registry:      r,
		Requests:      metrics.GetOrRegisterMeter("requests", r),
		Completed:     metrics.GetOrRegisterCounter("completed", r),
		CommitRound:   metrics.GetOrRegisterTimer("round.commit", r),
		SignRound:     metrics.GetOrRegisterTimer("round.sign", r),
		Integrity:     metrics.GetOrRegisterCounter("failures.integrity", r),
		PeerTimeouts:  metrics.GetOrRegisterCounter("peer_timeouts", r),
		SessionsBegun: metrics.GetOrRegisterCounter("sessions.begun", r),
		SharesIssued:  metrics.GetOrRegisterCounter("sessions.shares", r),
	}
}

// Failure counts one failure with the code of err.
func (m *Metrics) Failure(err error) {
	if m == nil || err == nil {
		return
	}
	m.Failures(api.CodeOf(err)).Inc(1)
}

// Failures returns the counter for failures with the given code.
func (m *Metrics) Failures(code api.Code) metrics.Counter {
	return metrics.GetOrRegisterCounter("failures."+string(code), m.registry)
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() metrics.Registry {
	return m.registry
}

// Handler serves the registry as JSON.
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", api.ContentTypeJSON)
		metrics.WriteJSONOnce(m.registry, w)
	})
}
