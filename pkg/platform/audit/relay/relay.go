// Package relay moves audit events from the PostgreSQL outbox to Kafka.
package relay

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"aegis/internal/platform/kafka"
	audit "aegis/pkg/platform/audit"
	"aegis/pkg/platform/audit/store/postgres"
	txcontext "aegis/pkg/platform/tx"
)

// Publisher is the broker side of the relay.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Relay claims outbox rows, publishes them, and marks them published in the
// same transaction. A crash between publish and commit republishes the batch;
// consumers dedupe on event ID.
type Relay struct {
	db        *sql.DB
	outbox    *postgres.Store
	publisher Publisher
	batchSize int
	interval  time.Duration
	logger    *slog.Logger
}

type Option func(*Relay)

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Relay) { r.logger = l }
}

func New(db *sql.DB, outbox *postgres.Store, publisher Publisher, opts ...Option) *Relay {
	r := &Relay{
		db:        db,
		outbox:    outbox,
		publisher: publisher,
		batchSize: 100,
		interval:  time.Second,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TopicFor routes a category to its topic.
func TopicFor(category audit.EventCategory) string {
	switch category {
	case audit.CategoryCompliance:
		return kafka.TopicAuditCompliance
	case audit.CategorySecurity:
		return kafka.TopicAuditSecurity
	default:
		return kafka.TopicAuditOps
	}
}

// RelayOnce publishes one batch and returns how many rows were relayed.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	var relayed int
	err := txcontext.Run(ctx, r.db, func(ctx context.Context) error {
		entries, err := r.outbox.ClaimBatch(ctx, r.batchSize)
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(entries))
		for _, e := range entries {
			if err := r.publisher.Publish(ctx, TopicFor(e.Category), []byte(e.AggregateID), e.Payload); err != nil {
				return err
			}
			ids = append(ids, e.ID)
		}
		if len(ids) == 0 {
			return nil
		}
		if err := r.outbox.MarkPublished(ctx, ids, time.Now().UTC()); err != nil {
			return err
		}
		relayed = len(ids)
		return nil
	})
	return relayed, err
}

// Run relays until ctx is cancelled. Full batches are followed immediately by
// another pass; errors back off one interval.
func (r *Relay) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		n, err := r.RelayOnce(ctx)
		switch {
		case err != nil:
			r.logger.ErrorContext(ctx, "audit relay failed", "error", err)
			timer.Reset(r.interval)
		case n == r.batchSize:
			timer.Reset(0)
		default:
			timer.Reset(r.interval)
		}
	}
}
