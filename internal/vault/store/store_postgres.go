package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"aegis/internal/platform/postgres"
	"aegis/internal/vault/cipher"
	"aegis/internal/vault/models"
	id "aegis/pkg/domain"
	"aegis/pkg/platform/sentinel"
	txcontext "aegis/pkg/platform/tx"
)

// PostgresStore persists vault records. Encrypted fields live in one JSONB
// document per subject; the version column is the CAS guard.
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

const recordColumns = `subject_id, email, key_version, fields, version, created_at, updated_at, anonymized_at`

func (s *PostgresStore) Get(ctx context.Context, subjectID id.SubjectID) (*models.Record, error) {
	row := s.q(ctx).QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM vault_records WHERE subject_id = $1`, uuid.UUID(subjectID))
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get vault record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) Save(ctx context.Context, rec *models.Record, expectedVersion int64) error {
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("marshal vault fields: %w", err)
	}
	email := sql.NullString{String: rec.Email, Valid: rec.Email != ""}
	next := expectedVersion + 1

	var res sql.Result
	if expectedVersion == 0 {
		res, err = s.q(ctx).ExecContext(ctx, `
			INSERT INTO vault_records (`+recordColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (subject_id) DO NOTHING
		`, uuid.UUID(rec.SubjectID), email, rec.KeyVersion, fields, next, rec.CreatedAt, rec.UpdatedAt, rec.AnonymizedAt)
	} else {
		res, err = s.q(ctx).ExecContext(ctx, `
			UPDATE vault_records
			SET email = $2, key_version = $3, fields = $4, version = $5, updated_at = $6, anonymized_at = $7
			WHERE subject_id = $1 AND version = $8
		`, uuid.UUID(rec.SubjectID), email, rec.KeyVersion, fields, next, rec.UpdatedAt, rec.AnonymizedAt, expectedVersion)
	}
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("save vault record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save vault record: %w", err)
	}
	if n == 0 {
		return sentinel.ErrConflict
	}
	rec.Version = next
	return nil
}

func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (*models.Record, error) {
	row := s.q(ctx).QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM vault_records WHERE lower(email) = lower($1)`, email)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find vault record by email: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) ListPage(ctx context.Context, after id.SubjectID, limit int) ([]*models.Record, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM vault_records
		WHERE subject_id > $1
		ORDER BY subject_id
		LIMIT $2
	`, uuid.UUID(after), limit)
	if err != nil {
		return nil, fmt.Errorf("list vault records: %w", err)
	}
	defer rows.Close()

	var out []*models.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan vault record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vault records: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*models.Record, error) {
	var (
		rec        models.Record
		subjectID  uuid.UUID
		email      sql.NullString
		fields     []byte
		anonymized sql.NullTime
	)
	if err := row.Scan(&subjectID, &email, &rec.KeyVersion, &fields, &rec.Version,
		&rec.CreatedAt, &rec.UpdatedAt, &anonymized); err != nil {
		return nil, err
	}
	rec.SubjectID = id.SubjectID(subjectID)
	rec.Email = email.String
	rec.Fields = make(map[models.FieldName]cipher.EncryptedField)
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &rec.Fields); err != nil {
			return nil, fmt.Errorf("unmarshal vault fields: %w", err)
		}
	}
	if anonymized.Valid {
		t := anonymized.Time
		rec.AnonymizedAt = &t
	}
	return &rec, nil
}
