package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks delivery health per sink.
type Metrics struct {
	Delivered *prometheus.CounterVec
	Failed    *prometheus.CounterVec
	Dropped   prometheus.Counter
}

func NewMetrics() *Metrics {
	return NewMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func NewMetricsWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Delivered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "accessgate_notify_delivered_total",
			Help: "Notification events delivered by sink",
		}, []string{"sink"}),
		Failed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "accessgate_notify_failed_total",
			Help: "Notification deliveries that failed by sink",
		}, []string{"sink"}),
		Dropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "accessgate_notify_dropped_total",
			Help: "Notification events dropped because the dispatch queue was full",
		}),
	}
}

func (m *Metrics) incDelivered(sink string) {
	if m != nil {
		m.Delivered.WithLabelValues(sink).Inc()
	}
}

func (m *Metrics) incFailed(sink string) {
	if m != nil {
		m.Failed.WithLabelValues(sink).Inc()
	}
}

func (m *Metrics) incDropped() {
	if m != nil {
		m.Dropped.Inc()
	}
}
