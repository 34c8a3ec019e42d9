package sla

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tracklane-io/tracklane/internal/models"
)

// Metrics collects lifecycle transition counters. A nil *Metrics is a no-op,
// so tests and callers without a registry can skip it.
type Metrics struct {
	transitions *prometheus.CounterVec
	breaches    prometheus.Counter
	active      prometheus.Gauge
}

// NewMetrics builds and registers the SLA metric set.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tracklane",
			Subsystem: "sla",
			Name:      "transitions_total",
			Help:      "SLA instance state transitions by operation and result.",
		}, []string{"op", "result"}),
		breaches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tracklane",
			Subsystem: "sla",
			Name:      "breaches_total",
			Help:      "SLA instances completed past their deadline.",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tracklane",
			Subsystem: "sla",
			Name:      "active_instances",
			Help:      "Active SLA instances as of the last breach scan.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.transitions, m.breaches, m.active)
	}
	return m
}

func (m *Metrics) observe(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.transitions.WithLabelValues(op, result).Inc()
}

// ObserveActive records the active-instance population seen by a scan cycle.
func (m *Metrics) ObserveActive(n int) {
	if m == nil {
		return
	}
	m.active.Set(float64(n))
}

func (m *Metrics) observeCompletion(status models.SLAStatus) {
	if m == nil {
		return
	}
	if status == models.StatusBreached {
		m.breaches.Inc()
	}
}
