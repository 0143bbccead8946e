package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for credential issuance and lifecycle.
type Metrics struct {
	Issued            *prometheus.CounterVec
	Revoked           prometheus.Counter
	Expired           prometheus.Counter
	InvalidSignatures prometheus.Counter
	OperationLatency  *prometheus.HistogramVec
	Operations        *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		Issued: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_credential_issued_total",
			Help: "Credentials issued by risk tier",
		}, []string{"tier"}),

		Revoked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aegis_credential_revoked_total",
			Help: "Credentials revoked",
		}),

		Expired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aegis_credential_expired_total",
			Help: "Credentials marked expired by the sweep",
		}),

		InvalidSignatures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aegis_credential_signature_invalid_total",
			Help: "Stored credentials whose digest or signature failed verification",
		}),

		OperationLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aegis_credential_operation_duration_seconds",
			Help:    "Duration of credential operations including signing",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),

		Operations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_credential_operations_total",
			Help: "Credential operations by operation and outcome",
		}, []string{"operation", "outcome"}),
	}
}

func (m *Metrics) Observe(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Operations.WithLabelValues(operation, outcome).Inc()
	m.OperationLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncIssued(tier string) {
	if m != nil {
		m.Issued.WithLabelValues(tier).Inc()
	}
}

func (m *Metrics) IncRevoked() {
	if m != nil {
		m.Revoked.Inc()
	}
}

func (m *Metrics) AddExpired(n int) {
	if m != nil {
		m.Expired.Add(float64(n))
	}
}

func (m *Metrics) IncInvalidSignature() {
	if m != nil {
		m.InvalidSignatures.Inc()
	}
}
