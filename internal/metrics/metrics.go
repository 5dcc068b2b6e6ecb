package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	ActiveSessions       prometheus.Gauge
	IntentsClassified    *prometheus.CounterVec
	PhaseTransitions     *prometheus.CounterVec
	NegotiationDecisions *prometheus.CounterVec
	CustomerLookups      *prometheus.CounterVec
	TurnDuration         *prometheus.HistogramVec
	OutcomesPublished    *prometheus.CounterVec
	SnapshotOperations   *prometheus.CounterVec
	CallCostCents        *prometheus.CounterVec
}

// NewMetrics registers the collectors on a fresh registry so several
// instances can coexist in one process.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "recovery_active_sessions",
			Help: "Current number of open recovery sessions",
		}),
		IntentsClassified: f.NewCounterVec(prometheus.CounterOpts{
			Name: "recovery_intents_classified_total",
			Help: "Customer utterances classified during the recovery phase",
		}, []string{"intent"}),
		PhaseTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "recovery_phase_transitions_total",
			Help: "Workflow phase transitions",
		}, []string{"from", "to"}),
		NegotiationDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "recovery_negotiation_decisions_total",
			Help: "Senior manager decisions on proposed EMIs",
		}, []string{"decision"}),
		CustomerLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "recovery_customer_lookups_total",
			Help: "Customer directory lookups by result",
		}, []string{"status"}),
		TurnDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "recovery_turn_duration_seconds",
			Help:    "Time taken to handle one operator or customer turn",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		OutcomesPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "recovery_outcomes_published_total",
			Help: "Call outcome events published to the broker",
		}, []string{"status"}),
		SnapshotOperations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "recovery_snapshot_operations_total",
			Help: "Session snapshot reads and writes",
		}, []string{"operation", "status"}),
		CallCostCents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "recovery_call_cost_cents_total",
			Help: "Estimated phone call spend in US cents by provider",
		}, []string{"provider"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry (used by tests).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
