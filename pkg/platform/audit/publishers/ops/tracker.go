// Package ops tracks routine verification flow events. Tracking never blocks
// or fails the caller: events are sampled, and a circuit breaker sheds load
// while the store is unhealthy.
package ops

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	audit "aegis/pkg/platform/audit"
)

// Tracker records sampled operational events.
type Tracker struct {
	store   audit.Store
	sampler *Sampler
	breaker *CircuitBreaker
	metrics *Metrics
	logger  *slog.Logger
}

type Option func(*Tracker)

func WithSampler(s *Sampler) Option {
	return func(t *Tracker) { t.sampler = s }
}

func WithCircuitBreaker(cb *CircuitBreaker) Option {
	return func(t *Tracker) { t.breaker = cb }
}

func WithMetrics(m *Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// New creates a tracker that keeps every event until a sampler says otherwise.
func New(store audit.Store, opts ...Option) *Tracker {
	t := &Tracker{
		store:   store,
		sampler: NewSampler(1.0),
		breaker: NewCircuitBreaker(5, 30*time.Second),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Track persists event if it is sampled in and the store is considered healthy.
func (t *Tracker) Track(ctx context.Context, event audit.OpsEvent) {
	if !t.sampler.ShouldSampleKey(string(event.Action), sampleKey(event)) {
		t.metrics.IncSampled()
		return
	}
	if !t.breaker.Allow() {
		t.metrics.IncCircuitBreakerDropped()
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	e := event.ToEvent()
	e.ID = uuid.NewString()

	if err := t.store.Append(ctx, e); err != nil {
		t.breaker.RecordFailure()
		t.metrics.IncPersistFailures()
		t.metrics.SetCircuitBreakerState(t.breaker.IsOpen())
		if t.logger != nil {
			t.logger.DebugContext(ctx, "ops audit dropped", "action", event.Action, "error", err)
		}
		return
	}
	t.breaker.RecordSuccess()
	t.metrics.SetCircuitBreakerState(false)
	t.metrics.IncTracked()
}

func sampleKey(event audit.OpsEvent) string {
	if !event.VerificationID.IsNil() {
		return event.VerificationID.String()
	}
	return event.RequestID
}
