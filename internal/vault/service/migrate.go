package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"aegis/internal/vault/cipher"
	"aegis/internal/vault/keyring"
	"aegis/internal/vault/models"
	id "aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
	"aegis/pkg/platform/audit"
	"aegis/pkg/platform/sentinel"
	"aegis/pkg/requestcontext"
)

const migrationPageSize = 100

// MigrationReport counts what a key migration did.
type MigrationReport struct {
	Migrated int
	// Skipped records are already on the target version or hold no fields.
	Skipped int
}

// Migrate re-encrypts every record written under from with the service's
// current keyring. It is an offline operation: readers of records still on
// the old version get a precondition error until it finishes. The first
// integrity failure aborts the run.
func (s *Service) Migrate(ctx context.Context, from *keyring.Keyring) (report MigrationReport, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "vault.Migrate")
	defer func() {
		s.metrics.Observe("migrate", start, err)
		endSpan(span, err)
	}()

	if from == nil || from.Version() == s.keys.Version() {
		return report, dErrors.New(dErrors.CodeInvalidInput, "source key version must differ from target")
	}

	var after id.SubjectID
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		page, err := s.store.ListPage(ctx, after, migrationPageSize)
		if err != nil {
			return report, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list vault records")
		}
		for _, rec := range page {
			after = rec.SubjectID
			if rec.KeyVersion != from.Version() {
				report.Skipped++
				continue
			}
			migrated, err := s.migrateRecord(ctx, rec.SubjectID, from)
			if err != nil {
				s.logger.ErrorContext(ctx, "vault key migration aborted",
					"subject_id", rec.SubjectID.String(),
					"migrated", report.Migrated,
					"error", err,
				)
				return report, err
			}
			if migrated {
				report.Migrated++
				s.metrics.IncMigrated()
			} else {
				report.Skipped++
			}
		}
		if len(page) < migrationPageSize {
			break
		}
	}

	s.logger.InfoContext(ctx, "vault key migration complete",
		"from_version", from.Version(),
		"to_version", s.keys.Version(),
		"migrated", report.Migrated,
		"skipped", report.Skipped,
	)
	return report, nil
}

func (s *Service) migrateRecord(ctx context.Context, subjectID id.SubjectID, from *keyring.Keyring) (bool, error) {
	migrated := false
	err := s.mutate(ctx, subjectID, false, func(rec *models.Record, now time.Time) (*audit.ComplianceEvent, error) {
		migrated = false
		if rec.KeyVersion != from.Version() {
			return nil, nil
		}
		fields := make(map[models.FieldName]cipher.EncryptedField, len(rec.Fields))
		for name, enc := range rec.Fields {
			plaintext, err := cipher.Decrypt(from.DataKey(), enc, fieldAAD(subjectID, name, from.Version()))
			if err != nil {
				s.integrityFailure(ctx, subjectID, name, "system:key_migration", requestcontext.Now(ctx))
				return nil, err
			}
			reenc, err := cipher.Encrypt(s.keys.DataKey(), plaintext, fieldAAD(subjectID, name, s.keys.Version()))
			if err != nil {
				return nil, err
			}
			fields[name] = reenc
		}
		rec.Fields = fields
		rec.KeyVersion = s.keys.Version()
		rec.UpdatedAt = now
		migrated = true
		return &audit.ComplianceEvent{
			Action: audit.EventVaultKeyRotated,
			Details: map[string]string{
				"from_version": strconv.Itoa(from.Version()),
				"to_version":   strconv.Itoa(s.keys.Version()),
				"fields":       strconv.Itoa(len(fields)),
			},
		}, nil
	})
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, nil
	}
	return migrated, err
}
