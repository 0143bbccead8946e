package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Enqueued   *prometheus.CounterVec
	Decided    *prometheus.CounterVec
	Escalated  prometheus.Counter
	QueueDepth *prometheus.GaugeVec
}

func New() *Metrics {
	return &Metrics{
		Enqueued: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_review_enqueued_total",
			Help: "Review tasks created, by priority",
		}, []string{"priority"}),
		Decided: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_review_decisions_total",
			Help: "Reviewer decisions, by decision",
		}, []string{"decision"}),
		Escalated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aegis_review_escalations_total",
			Help: "Review tasks escalated to urgent",
		}),
		QueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aegis_review_queue_depth",
			Help: "Review tasks by status at the last stats read",
		}, []string{"status"}),
	}
}

func (m *Metrics) IncEnqueued(priority string) {
	if m != nil {
		m.Enqueued.WithLabelValues(priority).Inc()
	}
}

func (m *Metrics) IncDecided(decision string) {
	if m != nil {
		m.Decided.WithLabelValues(decision).Inc()
	}
}

func (m *Metrics) IncEscalated() {
	if m != nil {
		m.Escalated.Inc()
	}
}

func (m *Metrics) SetDepth(pending, inReview int) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues("pending").Set(float64(pending))
	m.QueueDepth.WithLabelValues("in_review").Set(float64(inReview))
}
