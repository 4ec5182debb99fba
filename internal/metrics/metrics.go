// Package metrics exposes Prometheus metrics of event processing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine collectors. A nil *Metrics records nothing.
type Metrics struct {
	// Events counts processed events by kind and status.
	Events *prometheus.CounterVec

	// Duration observes end-to-end processing time by kind.
	Duration *prometheus.HistogramVec

	// Retries counts transactions re-run after a storage conflict.
	Retries prometheus.Counter

	// Versions counts versioning outcomes by entity type.
	Versions *prometheus.CounterVec
}

// New creates Metrics registered with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "admitlog_events_total",
			Help: "Processed events by kind and status",
		}, []string{"kind", "status"}),

		Duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "admitlog_event_duration_seconds",
			Help:    "Duration of event processing including retries",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"kind"}),

		Retries: f.NewCounter(prometheus.CounterOpts{
			Name: "admitlog_conflict_retries_total",
			Help: "Event transactions retried after a storage conflict",
		}),

		Versions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "admitlog_versioning_outcomes_total",
			Help: "Versioning outcomes by entity type and outcome",
		}, []string{"entity_type", "outcome"}),
	}
}

// ObserveEvent records one processed event.
func (m *Metrics) ObserveEvent(kind, status string, d time.Duration) {
	if m != nil {
		m.Events.WithLabelValues(kind, status).Inc()
		m.Duration.WithLabelValues(kind).Observe(d.Seconds())
	}
}

// IncrementRetry records a conflict retry.
func (m *Metrics) IncrementRetry() {
	if m != nil {
		m.Retries.Inc()
	}
}

// IncrementVersion records a versioning outcome.
func (m *Metrics) IncrementVersion(entityType, outcome string) {
	if m != nil {
		m.Versions.WithLabelValues(entityType, outcome).Inc()
	}
}
