package ledger

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records ledger round-trips. A nil *Metrics is valid and records nothing.
type Metrics struct {
	calls   *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "permits",
			Subsystem: "ledger",
			Name:      "requests_total",
			Help:      "Ledger reads and writes by method and outcome.",
		}, []string{"op", "method", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "permits",
			Subsystem: "ledger",
			Name:      "request_duration_seconds",
			Help:      "Ledger round-trip latency; writes include confirmation wait.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"op", "method"}),
	}
	if reg != nil {
		reg.MustRegister(m.calls, m.latency)
	}
	return m
}

func (m *Metrics) observe(op, method string, err error, took time.Duration) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(op, method, outcome(err)).Inc()
	m.latency.WithLabelValues(op, method).Observe(took.Seconds())
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrTransactionFailure):
		var te *TransactionError
		if errors.As(err, &te) && te.Timeout() {
			return "timeout"
		}
		if errors.As(err, &te) && te.Code == CodeCancelled {
			return "cancelled"
		}
		return "reverted"
	case errors.Is(err, ErrCorruptData):
		return "corrupt"
	default:
		return "read_failure"
	}
}
