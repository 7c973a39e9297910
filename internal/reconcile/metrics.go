package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/permitchain/permit-backend/internal/projects/domain"
)

type Metrics struct {
	tasks *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "permits",
			Subsystem: "reconcile",
			Name:      "tasks_total",
			Help:      "Reconciliation tasks processed by kind and outcome.",
		}, []string{"kind", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.tasks)
	}
	return m
}

func (m *Metrics) observe(kind domain.RepairKind, outcome string) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(string(kind), outcome).Inc()
}
