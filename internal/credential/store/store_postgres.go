package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"aegis/internal/credential/models"
	"aegis/internal/platform/postgres"
	id "aegis/pkg/domain"
	"aegis/pkg/platform/sentinel"
	txcontext "aegis/pkg/platform/tx"
)

// PostgresStore keeps the immutable part of a credential (summary, digest,
// signature) in a JSONB document and its status in columns.
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

const credentialColumns = `id, subject_id, verification_request_id, status, document, issued_at, expiry_at, status_changed_at, status_reason`

// document is the JSONB payload.
type document struct {
	Summary   models.Summary `json:"summary"`
	Digest    []byte         `json:"digest"`
	Signature []byte         `json:"signature"`
	Algorithm string         `json:"algorithm"`
}

func (s *PostgresStore) Get(ctx context.Context, credentialID id.CredentialID) (*models.Credential, error) {
	return s.getOne(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE id = $1`, uuid.UUID(credentialID))
}

func (s *PostgresStore) GetByVerification(ctx context.Context, verificationID id.VerificationID) (*models.Credential, error) {
	return s.getOne(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE verification_request_id = $1`, uuid.UUID(verificationID))
}

func (s *PostgresStore) getOne(ctx context.Context, query string, arg any) (*models.Credential, error) {
	c, err := scanCredential(s.q(ctx).QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) Create(ctx context.Context, c *models.Credential) error {
	doc, err := json.Marshal(document{Summary: c.Summary, Digest: c.Digest, Signature: c.Signature, Algorithm: c.Algorithm})
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}
	_, err = s.q(ctx).ExecContext(ctx, `
		INSERT INTO credentials (id, subject_id, verification_request_id, status, document, issued_at, expiry_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.UUID(c.ID), uuid.UUID(c.SubjectID), uuid.UUID(c.VerificationRequestID), string(c.Status), doc, c.IssuedAt, c.ExpiryAt)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, c *models.Credential, from models.Status) error {
	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE credentials
		SET status = $2, status_changed_at = $3, status_reason = $4
		WHERE id = $1 AND status = $5
	`, uuid.UUID(c.ID), string(c.Status), c.StatusChangedAt, c.StatusReason, string(from))
	if err != nil {
		return fmt.Errorf("update credential status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update credential status: %w", err)
	}
	if n == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresStore) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Credential, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT `+credentialColumns+`
		FROM credentials
		WHERE status = 'active' AND expiry_at <= $1
		ORDER BY expiry_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due credentials: %w", err)
	}
	defer rows.Close()

	var out []*models.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) MarkExpired(ctx context.Context, ids []id.CredentialID, at time.Time) ([]id.CredentialID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	raw := make([]string, len(ids))
	for i, credentialID := range ids {
		raw[i] = credentialID.String()
	}
	rows, err := s.q(ctx).QueryContext(ctx, `
		UPDATE credentials
		SET status = 'expired', status_changed_at = $2, status_reason = 'expired'
		WHERE id = ANY($1::uuid[]) AND status = 'active'
		RETURNING id
	`, pq.Array(raw), at)
	if err != nil {
		return nil, fmt.Errorf("expire credentials: %w", err)
	}
	defer rows.Close()

	var changed []id.CredentialID
	for rows.Next() {
		var u uuid.UUID
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan expired credential: %w", err)
		}
		changed = append(changed, id.CredentialID(u))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired credentials: %w", err)
	}
	return changed, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCredential(row scanner) (*models.Credential, error) {
	var (
		c                               models.Credential
		credentialID, subject, verifyID uuid.UUID
		status                          string
		raw                             []byte
		changedAt                       sql.NullTime
	)
	if err := row.Scan(&credentialID, &subject, &verifyID, &status, &raw,
		&c.IssuedAt, &c.ExpiryAt, &changedAt, &c.StatusReason); err != nil {
		return nil, err
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal credential document: %w", err)
	}
	c.ID = id.CredentialID(credentialID)
	c.SubjectID = id.SubjectID(subject)
	c.VerificationRequestID = id.VerificationID(verifyID)
	c.Status = models.Status(status)
	c.Summary = doc.Summary
	c.Digest = doc.Digest
	c.Signature = doc.Signature
	c.Algorithm = doc.Algorithm
	if changedAt.Valid {
		t := changedAt.Time
		c.StatusChangedAt = &t
	}
	return &c, nil
}
