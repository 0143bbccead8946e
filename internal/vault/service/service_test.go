package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"aegis/internal/vault/cipher"
	"aegis/internal/vault/keyring"
	"aegis/internal/vault/models"
	"aegis/internal/vault/store"
	id "aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
	"aegis/pkg/platform/audit"
	"aegis/pkg/requestcontext"
)

type recordingCompliance struct {
	mu     sync.Mutex
	events []audit.ComplianceEvent
	err    error
}

func (r *recordingCompliance) Emit(_ context.Context, e audit.ComplianceEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, e)
	return nil
}

func (r *recordingCompliance) byAction(action audit.AuditEvent) []audit.ComplianceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []audit.ComplianceEvent
	for _, e := range r.events {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

type recordingSecurity struct {
	mu     sync.Mutex
	events []audit.SecurityEvent
}

func (r *recordingSecurity) Emit(_ context.Context, e audit.SecurityEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

type VaultServiceSuite struct {
	suite.Suite
	store      *store.InMemoryStore
	master     cipher.Key
	keys       *keyring.Keyring
	compliance *recordingCompliance
	security   *recordingSecurity
	service    *Service
	ctx        context.Context
	subject    id.SubjectID
}

func TestVaultServiceSuite(t *testing.T) {
	suite.Run(t, new(VaultServiceSuite))
}

func (s *VaultServiceSuite) SetupTest() {
	var err error
	s.master, err = cipher.GenerateKey()
	s.Require().NoError(err)
	s.keys, err = keyring.New(s.master, 1)
	s.Require().NoError(err)

	s.store = store.NewInMemory()
	s.compliance = &recordingCompliance{}
	s.security = &recordingSecurity{}
	s.service = New(s.store, s.keys, s.compliance, WithSecurityPublisher(s.security))
	s.ctx = requestcontext.WithTime(context.Background(), time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	s.subject = id.SubjectID(uuid.New())
}

func (s *VaultServiceSuite) TestStoreAndReadBack() {
	s.Require().NoError(s.service.StoreField(s.ctx, s.subject, models.FieldFullName, "  Ada   Lovelace "))
	s.Require().NoError(s.service.StoreField(s.ctx, s.subject, models.FieldDateOfBirth, "1990-12-10"))

	got, err := s.service.ReadField(s.ctx, s.subject, models.FieldFullName, models.SelfCapability(s.subject))
	s.Require().NoError(err)
	s.Equal("Ada Lovelace", got)

	rec, err := s.store.Get(s.ctx, s.subject)
	s.Require().NoError(err)
	s.Equal(int64(2), rec.Version)
	for _, enc := range rec.Fields {
		s.NotContains(string(enc.Ciphertext), "Lovelace")
	}

	events := s.compliance.byAction(audit.EventVaultFieldUpdated)
	s.Require().Len(events, 2)
	s.Equal(s.subject, events[0].SubjectID)
	s.Equal("full_name", events[0].Details["field"])
	for _, e := range events {
		for _, v := range e.Details {
			s.NotContains(v, "Lovelace")
		}
	}
}

func (s *VaultServiceSuite) TestOverwriteReplacesValue() {
	s.Require().NoError(s.service.StoreField(s.ctx, s.subject, models.FieldAddress, "British"))
	s.Require().NoError(s.service.StoreField(s.ctx, s.subject, models.FieldAddress, "Irish"))

	got, err := s.service.ReadField(s.ctx, s.subject, models.FieldAddress, models.SelfCapability(s.subject))
	s.Require().NoError(err)
	s.Equal("Irish", got)

	events := s.compliance.byAction(audit.EventVaultFieldUpdated)
	s.Require().Len(events, 2)
	s.Equal("true", events[1].Details["replaced"])
}

func (s *VaultServiceSuite) TestRejectsInvalidInput() {
	err := s.service.StoreField(s.ctx, s.subject, models.FieldName("ssn"), "123")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))

	err = s.service.StoreField(s.ctx, s.subject, models.FieldDateOfBirth, "10/12/1990")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))

	err = s.service.StoreField(s.ctx, id.SubjectID{}, models.FieldFullName, "Ada")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))

	s.Empty(s.compliance.events)
}

func (s *VaultServiceSuite) TestReadDeniedWithoutCapability() {
	s.Require().NoError(s.service.StoreField(s.ctx, s.subject, models.FieldPassportNumber, "ab 123456"))

	s.Run("capability for another field", func() {
		grant := models.Capability{Actor: "verifier:acme", Subject: s.subject, Fields: []models.FieldName{models.FieldFullName}}
		_, err := s.service.ReadField(s.ctx, s.subject, models.FieldPassportNumber, grant)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("capability for another subject", func() {
		_, err := s.service.ReadField(s.ctx, s.subject, models.FieldPassportNumber, models.SelfCapability(id.SubjectID(uuid.New())))
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("expired capability", func() {
		grant := models.SelfCapability(s.subject)
		grant.ExpiresAt = requestcontext.Now(s.ctx)
		_, err := s.service.ReadField(s.ctx, s.subject, models.FieldPassportNumber, grant)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Require().Len(s.security.events, 3)
	for _, e := range s.security.events {
		s.Equal(audit.EventVaultAccessDenied, e.Action)
		s.Equal(audit.SeverityWarning, e.Severity)
		s.Equal("passport_number", e.Details["fields"])
	}
}

func (s *VaultServiceSuite) TestReadFieldsIsAllOrNothing() {
	s.Require().NoError(s.service.StoreField(s.ctx, s.subject, models.FieldFullName, "Ada Lovelace"))
	s.Require().NoError(s.service.StoreField(s.ctx, s.subject, models.FieldPhone, "+44 20 7946 0000"))

	grant := models.Capability{
		Actor:   "verifier:acme",
		Subject: s.subject,
		Fields:  []models.FieldName{models.FieldFullName, models.FieldPhone, models.FieldAddress},
		Purpose: "age_check",
	}
	got, err := s.service.ReadFields(s.ctx, s.subject, []models.FieldName{models.FieldFullName, models.FieldPhone, models.FieldAddress}, grant)
	s.Require().NoError(err)
	s.Equal(map[models.FieldName]string{
		models.FieldFullName: "Ada Lovelace",
		models.FieldPhone:    "+442079460000",
	}, got)

	_, err = s.service.ReadFields(s.ctx, s.subject, []models.FieldName{models.FieldFullName, models.FieldDateOfBirth}, grant)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	_, err = s.service.ReadFields(s.ctx, s.subject, nil, grant)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *VaultServiceSuite) TestTamperedCiphertextFailsClosed() {
	s.Require().NoError(s.service.StoreField(s.ctx, s.subject, models.FieldFullName, "Ada Lovelace"))

	rec, err := s.store.Get(s.ctx, s.subject)
	s.Require().NoError(err)
	enc := rec.Fields[models.FieldFullName]
	enc.Ciphertext[0] ^= 0x01
	rec.Fields[models.FieldFullName] = enc
	s.Require().NoError(s.store.Save(s.ctx, rec, rec.Version))

	got, err := s.service.ReadField(s.ctx, s.subject, models.FieldFullName, models.SelfCapability(s.subject))
	s.True(dErrors.HasCode(err, dErrors.CodeIntegrity))
	s.Empty(got)

	s.Require().Len(s.security.events, 1)
	s.Equal(audit.EventVaultIntegrityFailure, s.security.events[0].Action)
	s.Equal(audit.SeverityCritical, s.security.events[0].Severity)
}

func (s *VaultServiceSuite) TestCiphertextCannotMoveBetweenFields() {
	s.Require().NoError(s.service.StoreField(s.ctx, s.subject, models.FieldFullName, "Ada Lovelace"))
	s.Require().NoError(s.service.StoreField(s.ctx, s.subject, models.FieldAddress, "British"))

	rec, err := s.store.Get(s.ctx, s.subject)
	s.Require().NoError(err)
	rec.Fields[models.FieldAddress] = rec.Fields[models.FieldFullName]
	s.Require().NoError(s.store.Save(s.ctx, rec, rec.Version))

	_, err = s.service.ReadField(s.ctx, s.subject, models.FieldAddress, models.SelfCapability(s.subject))
	s.True(dErrors.HasCode(err, dErrors.CodeIntegrity))
}

func (s *VaultServiceSuite) TestComplianceFailureFailsWrite() {
	s.compliance.err = errors.New("audit store down")
	err := s.service.StoreField(s.ctx, s.subject, models.FieldFullName, "Ada Lovelace")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}

func (s *VaultServiceSuite) TestConcurrentWritesAreNotLost() {
	svc := New(s.store, s.keys, s.compliance, WithMaxAttempts(100))
	values := map[models.FieldName]string{
		models.FieldFullName:       "Ada Lovelace",
		models.FieldAddress:        "British",
		models.FieldDateOfBirth:    "1990-12-10",
		models.FieldPhone:          "+442079460000",
		models.FieldPassportNumber: "AB123456",
	}

	var wg sync.WaitGroup
	for field, raw := range values {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.NoError(svc.StoreField(s.ctx, s.subject, field, raw))
		}()
	}
	wg.Wait()

	fields := make([]models.FieldName, 0, len(values))
	for f := range values {
		fields = append(fields, f)
	}
	got, err := svc.ReadFields(s.ctx, s.subject, fields, models.SelfCapability(s.subject))
	s.Require().NoError(err)
	s.Equal(values, got)

	rec, err := s.store.Get(s.ctx, s.subject)
	s.Require().NoError(err)
	s.Equal(int64(len(values)), rec.Version)
}

func (s *VaultServiceSuite) TestEmailLookup() {
	other := id.SubjectID(uuid.New())
	s.Require().NoError(s.service.SetEmail(s.ctx, s.subject, "Ada@Example.com"))

	found, err := s.service.FindByEmail(s.ctx, "ada@example.COM")
	s.Require().NoError(err)
	s.Equal(s.subject, found)

	err = s.service.SetEmail(s.ctx, other, "ADA@example.com")
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	_, err = s.service.FindByEmail(s.ctx, "nobody@example.com")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	err = s.service.SetEmail(s.ctx, s.subject, "not-an-email")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *VaultServiceSuite) TestAnonymize() {
	s.Require().NoError(s.service.SetEmail(s.ctx, s.subject, "ada@example.com"))
	s.Require().NoError(s.service.StoreField(s.ctx, s.subject, models.FieldFullName, "Ada Lovelace"))

	s.Require().NoError(s.service.Anonymize(s.ctx, s.subject, "subject_request"))
	s.Require().NoError(s.service.Anonymize(s.ctx, s.subject, "subject_request"))

	_, err := s.service.ReadField(s.ctx, s.subject, models.FieldFullName, models.SelfCapability(s.subject))
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	_, err = s.service.FindByEmail(s.ctx, "ada@example.com")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	err = s.service.StoreField(s.ctx, s.subject, models.FieldFullName, "Ada Lovelace")
	s.True(dErrors.HasCode(err, dErrors.CodePrecondition))

	events := s.compliance.byAction(audit.EventVaultAnonymized)
	s.Require().Len(events, 1)
	s.Equal("1", events[0].Details["fields_removed"])

	err = s.service.Anonymize(s.ctx, id.SubjectID(uuid.New()), "subject_request")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *VaultServiceSuite) TestMigrateReencryptsUnderNewKey() {
	second := id.SubjectID(uuid.New())
	s.Require().NoError(s.service.StoreField(s.ctx, s.subject, models.FieldFullName, "Ada Lovelace"))
	s.Require().NoError(s.service.StoreField(s.ctx, second, models.FieldAddress, "Irish"))

	newMaster, err := cipher.GenerateKey()
	s.Require().NoError(err)
	next, err := keyring.New(newMaster, 2)
	s.Require().NoError(err)
	migrator := New(s.store, next, s.compliance)

	report, err := migrator.Migrate(s.ctx, s.keys)
	s.Require().NoError(err)
	s.Equal(MigrationReport{Migrated: 2}, report)

	got, err := migrator.ReadField(s.ctx, s.subject, models.FieldFullName, models.SelfCapability(s.subject))
	s.Require().NoError(err)
	s.Equal("Ada Lovelace", got)

	_, err = s.service.ReadField(s.ctx, second, models.FieldAddress, models.SelfCapability(second))
	s.True(dErrors.HasCode(err, dErrors.CodePrecondition))

	report, err = migrator.Migrate(s.ctx, s.keys)
	s.Require().NoError(err)
	s.Equal(MigrationReport{Skipped: 2}, report)

	s.Len(s.compliance.byAction(audit.EventVaultKeyRotated), 2)

	_, err = migrator.Migrate(s.ctx, next)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *VaultServiceSuite) TestMigrateAbortsOnTamper() {
	s.Require().NoError(s.service.StoreField(s.ctx, s.subject, models.FieldFullName, "Ada Lovelace"))
	rec, err := s.store.Get(s.ctx, s.subject)
	s.Require().NoError(err)
	enc := rec.Fields[models.FieldFullName]
	enc.Nonce[3] ^= 0x80
	rec.Fields[models.FieldFullName] = enc
	s.Require().NoError(s.store.Save(s.ctx, rec, rec.Version))

	next, err := keyring.New(s.master, 2)
	s.Require().NoError(err)
	migrator := New(s.store, next, s.compliance, WithSecurityPublisher(s.security))

	_, err = migrator.Migrate(s.ctx, s.keys)
	s.True(dErrors.HasCode(err, dErrors.CodeIntegrity))
	s.Require().NotEmpty(s.security.events)
	s.True(strings.HasPrefix(s.security.events[0].ActorID, "system:"))
}
