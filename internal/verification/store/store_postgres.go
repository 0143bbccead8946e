package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"aegis/internal/verification/models"
	id "aegis/pkg/domain"
	"aegis/pkg/platform/sentinel"
	txcontext "aegis/pkg/platform/tx"
)

// PostgresStore keeps each request as one JSONB document. The version column
// guards every write.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) q(ctx context.Context) queryer {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Get(ctx context.Context, requestID id.VerificationID) (*models.Request, error) {
	var doc []byte
	var version int64
	err := s.q(ctx).QueryRowContext(ctx,
		`SELECT document, version FROM verification_requests WHERE id = $1`, uuid.UUID(requestID),
	).Scan(&doc, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get verification request: %w", err)
	}
	req, err := decode(doc)
	if err != nil {
		return nil, err
	}
	req.Version = version
	return req, nil
}

func (s *PostgresStore) Save(ctx context.Context, req *models.Request, expectedVersion int64) error {
	next := expectedVersion + 1
	saved := *req
	saved.Version = next
	doc, err := json.Marshal(&saved)
	if err != nil {
		return fmt.Errorf("marshal verification request: %w", err)
	}

	var res sql.Result
	if expectedVersion == 0 {
		res, err = s.q(ctx).ExecContext(ctx, `
			INSERT INTO verification_requests (id, subject_id, state, document, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO NOTHING
		`, uuid.UUID(req.ID), uuid.UUID(req.SubjectID), string(req.State), doc, next, req.CreatedAt, req.UpdatedAt)
	} else {
		res, err = s.q(ctx).ExecContext(ctx, `
			UPDATE verification_requests
			SET state = $2, document = $3, version = $4, updated_at = $5
			WHERE id = $1 AND version = $6
		`, uuid.UUID(req.ID), string(req.State), doc, next, req.UpdatedAt, expectedVersion)
	}
	if err != nil {
		return fmt.Errorf("save verification request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save verification request: %w", err)
	}
	if n == 0 {
		return sentinel.ErrConflict
	}
	req.Version = next
	return nil
}

func (s *PostgresStore) ListBySubject(ctx context.Context, subjectID id.SubjectID) ([]*models.Request, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT document, version FROM verification_requests
		WHERE subject_id = $1
		ORDER BY created_at DESC, id DESC
	`, uuid.UUID(subjectID))
	if err != nil {
		return nil, fmt.Errorf("list verification requests: %w", err)
	}
	defer rows.Close()

	var out []*models.Request
	for rows.Next() {
		var doc []byte
		var version int64
		if err := rows.Scan(&doc, &version); err != nil {
			return nil, fmt.Errorf("scan verification request: %w", err)
		}
		req, err := decode(doc)
		if err != nil {
			return nil, err
		}
		req.Version = version
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list verification requests: %w", err)
	}
	return out, nil
}
