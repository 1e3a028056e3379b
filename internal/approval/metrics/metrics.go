package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the approval workflow.
type Metrics struct {
	// Persisted transitions by audit action
	Transitions *prometheus.CounterVec

	// Optimistic-concurrency retries caused by version conflicts
	ConflictRetries prometheus.Counter

	// Operations that gave up after exhausting retries
	ConcurrentModifications prometheus.Counter

	// Operation latency including store round trips
	OperationLatency *prometheus.HistogramVec

	// Resource fetches after a recorded access, by outcome
	ResourceFetches *prometheus.CounterVec
}

// New creates a Metrics instance registered with the default registerer.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers with reg, letting tests use a private registry.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "accessgate_approval_transitions_total",
			Help: "Approval request transitions persisted, by action",
		}, []string{"action"}), // action: created, approved, rejected, accessed, expired

		ConflictRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "accessgate_approval_conflict_retries_total",
			Help: "Version conflicts that triggered a re-read and retry",
		}),

		ConcurrentModifications: factory.NewCounter(prometheus.CounterOpts{
			Name: "accessgate_approval_concurrent_modifications_total",
			Help: "Operations that failed after exhausting conflict retries",
		}),

		OperationLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "accessgate_approval_operation_duration_seconds",
			Help:    "Duration of approval service operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),

		ResourceFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "accessgate_approval_resource_fetches_total",
			Help: "Resource provider fetches after access was recorded, by outcome",
		}, []string{"outcome"}), // outcome: ok, error
	}
}

func (m *Metrics) IncrementTransition(action string) {
	if m != nil {
		m.Transitions.WithLabelValues(action).Inc()
	}
}

func (m *Metrics) IncrementConflictRetry() {
	if m != nil {
		m.ConflictRetries.Inc()
	}
}

func (m *Metrics) IncrementConcurrentModification() {
	if m != nil {
		m.ConcurrentModifications.Inc()
	}
}

// ObserveOperation records how long an operation took.
func (m *Metrics) ObserveOperation(operation string, d time.Duration) {
	if m != nil {
		m.OperationLatency.WithLabelValues(operation).Observe(d.Seconds())
	}
}

func (m *Metrics) IncrementResourceFetch(outcome string) {
	if m != nil {
		m.ResourceFetches.WithLabelValues(outcome).Inc()
	}
}
