// Package metrics provides Prometheus metrics for session and guard operations.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for session operations.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	enabled bool

	// Identity client metrics
	identityFetchesTotal *prometheus.CounterVec
	renewalsTotal        *prometheus.CounterVec

	// Session metrics
	authOutcomesTotal  *prometheus.CounterVec
	sessionEventsTotal *prometheus.CounterVec

	// Guard metrics
	guardDecisionsTotal *prometheus.CounterVec
	guardCheckDuration  prometheus.Histogram
}

// New creates metrics registered on the default Prometheus registry.
// If enabled is false, returns a no-op Metrics instance.
func New(enabled bool) *Metrics {
	if !enabled {
		return &Metrics{}
	}
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates enabled metrics registered on reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{enabled: true}

	m.identityFetchesTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "quickfood_identity_fetches_total",
		Help: "Total current-identity fetches by result",
	}, []string{"result"})

	m.renewalsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "quickfood_token_renewals_total",
		Help: "Total access token renewals by result",
	}, []string{"result"})

	m.authOutcomesTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "quickfood_auth_outcomes_total",
		Help: "Total authentication checks by outcome",
	}, []string{"status"})

	m.sessionEventsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "quickfood_session_events_total",
		Help: "Total session lifecycle events (login, logout, forced_logout)",
	}, []string{"event"})

	m.guardDecisionsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "quickfood_guard_decisions_total",
		Help: "Total route guard decisions",
	}, []string{"decision"})

	m.guardCheckDuration = f.NewHistogram(prometheus.HistogramOpts{
		Name:    "quickfood_guard_check_duration_seconds",
		Help:    "Route guard check duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	return m
}

func (m *Metrics) on() bool { return m != nil && m.enabled }

// RecordIdentityFetch records a current-identity fetch result
// (ok, rejected, network).
func (m *Metrics) RecordIdentityFetch(result string) {
	if !m.on() {
		return
	}
	m.identityFetchesTotal.WithLabelValues(result).Inc()
}

// RecordRenewal records a renewal result (success, rejected, network, reused).
func (m *Metrics) RecordRenewal(result string) {
	if !m.on() {
		return
	}
	m.renewalsTotal.WithLabelValues(result).Inc()
}

// RecordAuthOutcome records the status returned by an authentication check.
func (m *Metrics) RecordAuthOutcome(status string) {
	if !m.on() {
		return
	}
	m.authOutcomesTotal.WithLabelValues(status).Inc()
}

// RecordSessionEvent records a session lifecycle event.
func (m *Metrics) RecordSessionEvent(event string) {
	if !m.on() {
		return
	}
	m.sessionEventsTotal.WithLabelValues(event).Inc()
}

// RecordGuardDecision records a guard decision and how long it took.
func (m *Metrics) RecordGuardDecision(decision string, durationSeconds float64) {
	if !m.on() {
		return
	}
	m.guardDecisionsTotal.WithLabelValues(decision).Inc()
	m.guardCheckDuration.Observe(durationSeconds)
}
