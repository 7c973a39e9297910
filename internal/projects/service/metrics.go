package service

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/permitchain/permit-backend/internal/ledger"
	"github.com/permitchain/permit-backend/internal/projects/domain"
)

// Metrics counts workflow operations by outcome. A nil *Metrics records nothing.
type Metrics struct {
	ops *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "permits",
			Subsystem: "workflow",
			Name:      "operations_total",
			Help:      "Workflow operations by outcome.",
		}, []string{"operation", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.ops)
	}
	return m
}

func (m *Metrics) observe(operation string, err error) {
	if m == nil {
		return
	}
	m.ops.WithLabelValues(operation, operationOutcome(err)).Inc()
}

func operationOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrOrphanedContract):
		return "orphaned"
	case errors.Is(err, domain.ErrPartiallyApplied):
		return "partially_applied"
	case errors.Is(err, domain.ErrRefreshFailed):
		return "refresh_failed"
	case errors.Is(err, ledger.ErrUnauthorized):
		return "unauthorized"
	default:
		return "failed"
	}
}
