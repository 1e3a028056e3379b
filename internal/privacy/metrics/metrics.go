package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for PII scanning and exports.
type Metrics struct {
	Findings *prometheus.CounterVec
	Exports  *prometheus.CounterVec
}

// New creates and registers privacy metrics.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers metrics against reg; tests pass a fresh registry.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Findings: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "accessgate_privacy_findings_total",
			Help: "Leakage findings reported by the PII scanner by kind and severity",
		}, []string{"kind", "severity"}),
		Exports: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "accessgate_privacy_exports_total",
			Help: "Export pipeline runs by outcome",
		}, []string{"outcome"}), // outcome: "exported", "blocked_initial", "blocked_final"
	}
}

// ObserveFinding counts one finding.
func (m *Metrics) ObserveFinding(kind, severity string) {
	if m != nil {
		m.Findings.WithLabelValues(kind, severity).Inc()
	}
}

// IncrementExport counts one pipeline run.
func (m *Metrics) IncrementExport(outcome string) {
	if m != nil {
		m.Exports.WithLabelValues(outcome).Inc()
	}
}
