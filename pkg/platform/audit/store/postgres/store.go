package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	audit "aegis/pkg/platform/audit"
	txcontext "aegis/pkg/platform/tx"
)

// Store implements audit.Store using the transactional outbox pattern.
// Events are written to the outbox table in the caller's transaction when one
// is on the context, and published to Kafka by the relay. The consumer
// materializes them into the chained log.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL audit store that writes to the outbox.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Append writes an audit event to the outbox table.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}
	// chain fields belong to the materialized log, not the outbox
	event.PrevHash, event.Hash = "", ""

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	aggregateType := "audit"
	aggregateID := event.ID
	if !event.VerificationID.IsNil() {
		aggregateType = "verification"
		aggregateID = event.VerificationID.String()
	} else if !event.SubjectID.IsNil() {
		aggregateType = "subject"
		aggregateID = event.SubjectID.String()
	}

	query := `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, category, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		event.ID,
		aggregateType,
		aggregateID,
		event.Action,
		string(event.Category),
		payload,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// OutboxEntry is an unpublished outbox row.
type OutboxEntry struct {
	ID          string
	AggregateID string
	EventType   string
	Category    audit.EventCategory
	Payload     []byte
}

// ClaimBatch locks up to limit unpublished rows in created order. It must run
// in a transaction on ctx so the lock is held until MarkPublished commits.
func (s *Store) ClaimBatch(ctx context.Context, limit int) ([]OutboxEntry, error) {
	tx, ok := txcontext.From(ctx)
	if !ok {
		return nil, fmt.Errorf("claim outbox batch: transaction required")
	}
	rows, err := tx.QueryContext(ctx, `
		SELECT id, aggregate_id, event_type, category, payload
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY created_at, id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var entries []OutboxEntry
	for rows.Next() {
		var (
			e        OutboxEntry
			category string
		)
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.EventType, &category, &e.Payload); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		e.Category = audit.EventCategory(category)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox: %w", err)
	}
	return entries, nil
}

// MarkPublished stamps rows as relayed.
func (s *Store) MarkPublished(ctx context.Context, ids []string, at time.Time) error {
	for _, entryID := range ids {
		if _, err := s.execer(ctx).ExecContext(ctx,
			`UPDATE outbox SET published_at = $2 WHERE id = $1`, entryID, at); err != nil {
			return fmt.Errorf("mark outbox published: %w", err)
		}
	}
	return nil
}
