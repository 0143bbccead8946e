package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the verification state machine.
type Metrics struct {
	Transitions      *prometheus.CounterVec
	Decisions        *prometheus.CounterVec
	Escalations      prometheus.Counter
	CASConflicts     prometheus.Counter
	StepsCompleted   *prometheus.CounterVec
	StepsRejected    *prometheus.CounterVec
	DiscardedResults prometheus.Counter
	OperationLatency *prometheus.HistogramVec
	FollowUpFailures *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_verification_transitions_total",
			Help: "Applied state transitions by source and target state",
		}, []string{"from", "to"}),

		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_verification_decisions_total",
			Help: "Decisions reached, by decision and reason",
		}, []string{"decision", "reason"}),

		Escalations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aegis_verification_escalations_total",
			Help: "Reassessments that added required steps to an in-flight request",
		}),

		CASConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aegis_verification_cas_conflicts_total",
			Help: "Optimistic concurrency conflicts on request writes",
		}),

		StepsCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_verification_steps_completed_total",
			Help: "Step results accepted, by step and outcome",
		}, []string{"step", "outcome"}),

		StepsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_verification_steps_rejected_total",
			Help: "Step results refused by the transition rule, by step",
		}, []string{"step"}),

		DiscardedResults: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aegis_verification_discarded_results_total",
			Help: "Late results discarded because the request had already finished",
		}),

		OperationLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aegis_verification_operation_duration_seconds",
			Help:    "Duration of verification operations including signal collection",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"operation", "outcome"}),

		FollowUpFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_verification_follow_up_failures_total",
			Help: "Post-commit follow-ups (credential issue, review enqueue) that failed",
		}, []string{"kind"}),
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
	m.OperationLatency.WithLabelValues(operation, outcome).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncTransition(from, to string) {
	if m != nil {
		m.Transitions.WithLabelValues(from, to).Inc()
	}
}

func (m *Metrics) IncDecision(decision, reason string) {
	if m != nil {
		m.Decisions.WithLabelValues(decision, reason).Inc()
	}
}

func (m *Metrics) IncEscalation() {
	if m != nil {
		m.Escalations.Inc()
	}
}

func (m *Metrics) IncCASConflict() {
	if m != nil {
		m.CASConflicts.Inc()
	}
}

func (m *Metrics) IncStepCompleted(step, outcome string) {
	if m != nil {
		m.StepsCompleted.WithLabelValues(step, outcome).Inc()
	}
}

func (m *Metrics) IncStepRejected(step string) {
	if m != nil {
		m.StepsRejected.WithLabelValues(step).Inc()
	}
}

func (m *Metrics) IncDiscarded() {
	if m != nil {
		m.DiscardedResults.Inc()
	}
}

func (m *Metrics) IncFollowUpFailure(kind string) {
	if m != nil {
		m.FollowUpFailures.WithLabelValues(kind).Inc()
	}
}
