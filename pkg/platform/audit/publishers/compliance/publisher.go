// Package compliance provides a fail-closed audit publisher for regulatory events.
//
// Events are written synchronously and the caller blocks until the write
// succeeds. If the write fails, an error is returned and the calling
// operation MUST fail.
//
// Use for: vault writes, decisions, credential lifecycle, erasure.
package compliance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	audit "aegis/pkg/platform/audit"
	"aegis/pkg/requestcontext"
)

// Publisher emits compliance events with fail-closed semantics.
type Publisher struct {
	store   audit.Store
	logger  *slog.Logger
	metrics *Metrics
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithLogger sets a logger for error reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// New creates a compliance publisher.
// The store must be durable (outbox or chained log) for guaranteed delivery.
func New(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store: store,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit synchronously writes a compliance event to the audit store.
// Returns error if persistence fails - the caller MUST fail its operation.
// The request ID on ctx is stamped onto events that do not carry one.
func (p *Publisher) Emit(ctx context.Context, event audit.ComplianceEvent) error {
	start := time.Now()

	if event.SubjectID.IsNil() {
		return fmt.Errorf("compliance event requires SubjectID")
	}
	if event.Action == "" {
		return fmt.Errorf("compliance event requires Action")
	}
	if cat := event.Action.Category(); cat != audit.CategoryCompliance {
		return fmt.Errorf("%s is a %s event, not compliance", event.Action, cat)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	event.Timestamp = event.Timestamp.UTC()
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}

	e := event.ToEvent()
	e.ID = uuid.NewString()

	if err := p.store.Append(ctx, e); err != nil {
		p.metrics.IncPersistFailures()
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "CRITICAL: compliance audit failed",
				"action", event.Action,
				"subject_id", event.SubjectID,
				"verification_id", event.VerificationID,
				"error", err,
			)
		}
		return fmt.Errorf("compliance audit persistence failed: %w", err)
	}

	p.metrics.ObservePersistDuration(time.Since(start).Seconds())
	p.metrics.IncEventsEmitted()
	return nil
}

// Close is a no-op for the synchronous compliance publisher.
func (p *Publisher) Close() error {
	return nil
}
