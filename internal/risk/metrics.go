package risk

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for risk assessments.
type Metrics struct {
	Assessments          *prometheus.CounterVec
	CompositeScore       prometheus.Histogram
	InsufficientCoverage prometheus.Counter
	DiscardedSignals     prometheus.Counter
	HardFails            *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		Assessments: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_risk_assessments_total",
			Help: "Risk assessments by resulting tier and policy version",
		}, []string{"tier", "policy_version"}),

		CompositeScore: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "aegis_risk_composite_score",
			Help:    "Distribution of composite risk scores",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}),

		InsufficientCoverage: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aegis_risk_insufficient_coverage_total",
			Help: "Assessments forced high for insufficient signal coverage",
		}),

		DiscardedSignals: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aegis_risk_discarded_signals_total",
			Help: "Signals dropped as malformed",
		}),

		HardFails: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_risk_hard_fails_total",
			Help: "Hard-fail checks tripped, by reason",
		}, []string{"reason"}),
	}
}

func (m *Metrics) observe(a Assessment) {
	if m == nil {
		return
	}
	m.Assessments.WithLabelValues(a.Tier.String(), a.PolicyVersion).Inc()
	m.CompositeScore.Observe(a.CompositeScore)
	if a.InsufficientCoverage {
		m.InsufficientCoverage.Inc()
	}
	if a.Discarded > 0 {
		m.DiscardedSignals.Add(float64(a.Discarded))
	}
	for _, r := range a.HardFails {
		m.HardFails.WithLabelValues(r).Inc()
	}
}
