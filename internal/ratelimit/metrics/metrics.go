package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts limiter decisions. Nil receivers are no-ops.
type Metrics struct {
	Rejected      *prometheus.CounterVec
	StoreFailures prometheus.Counter
	Degraded      prometheus.Gauge
}

func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pushauth_ratelimit_rejected_total",
			Help: "Total number of session starts rejected by rate limiting, by scope",
		}, []string{"scope"}),
		StoreFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "pushauth_ratelimit_store_failures_total",
			Help: "Total number of rate limit checks that failed against the primary store",
		}),
		Degraded: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pushauth_ratelimit_degraded",
			Help: "1 while rate limiting runs on the in-memory fallback",
		}),
	}
}

func (m *Metrics) IncRejected(scope string) {
	if m == nil {
		return
	}
	m.Rejected.WithLabelValues(scope).Inc()
}

func (m *Metrics) IncStoreFailures() {
	if m == nil {
		return
	}
	m.StoreFailures.Inc()
}

func (m *Metrics) SetDegraded(degraded bool) {
	if m == nil {
		return
	}
	if degraded {
		m.Degraded.Set(1)
		return
	}
	m.Degraded.Set(0)
}
