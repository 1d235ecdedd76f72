package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the MFA handshake. All methods
// are safe on a nil receiver so components can run without instrumentation.
type Metrics struct {
	SessionsStarted   *prometheus.CounterVec
	SessionsFinished  *prometheus.CounterVec
	ActiveSessions    prometheus.Gauge
	PollAttempts      prometheus.Counter
	PollTransient     prometheus.Counter
	PollAmbiguous     prometheus.Counter
	ValidateLatency   prometheus.Histogram
	InitiationLatency prometheus.Histogram
}

// New registers the collectors with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the collectors with reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration panics.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pushauth_mfa_sessions_started_total",
			Help: "Total number of MFA handshakes started, by mode",
		}, []string{"mode"}),
		SessionsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pushauth_mfa_sessions_finished_total",
			Help: "Total number of MFA handshakes that reached a final state, by outcome",
		}, []string{"outcome"}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pushauth_mfa_active_sessions",
			Help: "Current number of MFA handshakes that have not reached a final state",
		}),
		PollAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "pushauth_mfa_poll_attempts_total",
			Help: "Total number of validate calls issued to the authority",
		}),
		PollTransient: factory.NewCounter(prometheus.CounterOpts{
			Name: "pushauth_mfa_poll_transient_failures_total",
			Help: "Total number of validate calls that failed at the transport level and were retried",
		}),
		PollAmbiguous: factory.NewCounter(prometheus.CounterOpts{
			Name: "pushauth_mfa_poll_ambiguous_total",
			Help: "Total number of validate responses read as ambiguous pending",
		}),
		ValidateLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pushauth_mfa_validate_duration_seconds",
			Help:    "Latency of validate calls to the authority",
			Buckets: prometheus.DefBuckets,
		}),
		InitiationLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pushauth_mfa_initiation_duration_seconds",
			Help:    "Latency of start-auth calls to the authority",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) IncSessionsStarted(demoMode bool) {
	if m == nil {
		return
	}
	mode := "live"
	if demoMode {
		mode = "demo"
	}
	m.SessionsStarted.WithLabelValues(mode).Inc()
	m.ActiveSessions.Inc()
}

// IncSessionsFinished records a final state (success, error, cancelled).
func (m *Metrics) IncSessionsFinished(outcome string) {
	if m == nil {
		return
	}
	m.SessionsFinished.WithLabelValues(outcome).Inc()
	m.ActiveSessions.Dec()
}

func (m *Metrics) ObserveValidate(d time.Duration) {
	if m == nil {
		return
	}
	m.PollAttempts.Inc()
	m.ValidateLatency.Observe(d.Seconds())
}

func (m *Metrics) ObserveInitiation(d time.Duration) {
	if m == nil {
		return
	}
	m.InitiationLatency.Observe(d.Seconds())
}

func (m *Metrics) IncPollTransient() {
	if m == nil {
		return
	}
	m.PollTransient.Inc()
}

func (m *Metrics) IncPollAmbiguous() {
	if m == nil {
		return
	}
	m.PollAmbiguous.Inc()
}
