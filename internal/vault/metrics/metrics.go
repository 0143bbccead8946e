package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the identity vault. Labels never carry
// subject identifiers or field values.
type Metrics struct {
	Operations        *prometheus.CounterVec
	OperationLatency  *prometheus.HistogramVec
	AccessDenied      *prometheus.CounterVec
	IntegrityFailures prometheus.Counter
	CASConflicts      prometheus.Counter
	RecordsMigrated   prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		Operations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_vault_operations_total",
			Help: "Vault operations by operation and outcome",
		}, []string{"operation", "outcome"}),

		OperationLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aegis_vault_operation_duration_seconds",
			Help:    "Duration of vault operations including encryption and persistence",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),

		AccessDenied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_vault_access_denied_total",
			Help: "Vault reads rejected for missing capability, by field",
		}, []string{"field"}),

		IntegrityFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aegis_vault_integrity_failures_total",
			Help: "Ciphertexts that failed authentication on decrypt",
		}),

		CASConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aegis_vault_cas_conflicts_total",
			Help: "Optimistic concurrency conflicts on vault record writes",
		}),

		RecordsMigrated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aegis_vault_records_migrated_total",
			Help: "Records re-encrypted under a new master key version",
		}),
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

func (m *Metrics) IncAccessDenied(field string) {
	if m != nil {
		m.AccessDenied.WithLabelValues(field).Inc()
	}
}

func (m *Metrics) IncIntegrityFailure() {
	if m != nil {
		m.IntegrityFailures.Inc()
	}
}

func (m *Metrics) IncCASConflict() {
	if m != nil {
		m.CASConflicts.Inc()
	}
}

func (m *Metrics) IncMigrated() {
	if m != nil {
		m.RecordsMigrated.Inc()
	}
}
