package signals

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"aegis/internal/risk"
)

// Metrics provides observability for signal collection.
type Metrics struct {
	Latency  *prometheus.HistogramVec
	Absences *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		Latency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aegis_signal_producer_duration_seconds",
			Help:    "Duration of signal producer calls by source",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"source"}),

		Absences: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_signal_absent_total",
			Help: "Signals treated as absent, by source and cause",
		}, []string{"source", "cause"}), // cause: "timeout", "error"
	}
}

func (m *Metrics) observe(src risk.Source, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.Latency.WithLabelValues(src.String()).Observe(d.Seconds())
	if err == nil {
		return
	}
	cause := "error"
	if IsTimeout(err) {
		cause = "timeout"
	}
	m.Absences.WithLabelValues(src.String(), cause).Inc()
}
