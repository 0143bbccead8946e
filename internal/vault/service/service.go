package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"aegis/internal/vault/cipher"
	"aegis/internal/vault/keyring"
	"aegis/internal/vault/metrics"
	"aegis/internal/vault/models"
	id "aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
	"aegis/pkg/email"
	"aegis/pkg/platform/audit"
	"aegis/pkg/platform/sentinel"
	txcontext "aegis/pkg/platform/tx"
	"aegis/pkg/requestcontext"
)

// Store persists vault records with optimistic concurrency on Record.Version.
type Store interface {
	Get(ctx context.Context, subjectID id.SubjectID) (*models.Record, error)
	Save(ctx context.Context, rec *models.Record, expectedVersion int64) error
	FindByEmail(ctx context.Context, email string) (*models.Record, error)
	ListPage(ctx context.Context, after id.SubjectID, limit int) ([]*models.Record, error)
}

const defaultMaxAttempts = 5

// Service is the only component holding key material. Plaintext leaves it
// only through ReadField/ReadFields for an authorized capability.
type Service struct {
	store       Store
	keys        *keyring.Keyring
	tx          txcontext.Runner
	compliance  audit.Compliance
	security    audit.Security
	ops         audit.Ops
	logger      *slog.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	maxAttempts int
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithTxRunner makes each record write and its compliance event atomic.
func WithTxRunner(r txcontext.Runner) Option {
	return func(s *Service) {
		s.tx = r
	}
}

func WithSecurityPublisher(p audit.Security) Option {
	return func(s *Service) {
		s.security = p
	}
}

func WithOpsTracker(t audit.Ops) Option {
	return func(s *Service) {
		s.ops = t
	}
}

func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func New(store Store, keys *keyring.Keyring, compliance audit.Compliance, opts ...Option) *Service {
	s := &Service{
		store:       store,
		keys:        keys,
		compliance:  compliance,
		tx:          txcontext.NopRunner{},
		security:    nopSecurity{},
		ops:         nopOps{},
		logger:      slog.Default(),
		tracer:      otel.Tracer("aegis/vault"),
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// KeyVersion is the master key generation new ciphertexts are written under.
func (s *Service) KeyVersion() int { return s.keys.Version() }

// StoreField validates and encrypts raw, replacing any previous value of
// field. The write and its compliance event commit together.
func (s *Service) StoreField(ctx context.Context, subjectID id.SubjectID, field models.FieldName, raw string) (err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "vault.StoreField", trace.WithAttributes(attribute.String("vault.field", field.String())))
	defer func() {
		s.metrics.Observe("store_field", start, err)
		endSpan(span, err)
	}()

	if subjectID.IsNil() {
		return dErrors.New(dErrors.CodeInvalidInput, "subject ID required")
	}
	value, err := models.ParseFieldValue(field, raw)
	if err != nil {
		return err
	}

	return s.mutate(ctx, subjectID, true, func(rec *models.Record, now time.Time) (*audit.ComplianceEvent, error) {
		if rec.IsAnonymized() {
			return nil, dErrors.New(dErrors.CodePrecondition, "subject data has been erased")
		}
		if rec.KeyVersion != s.keys.Version() {
			if len(rec.Fields) > 0 {
				return nil, dErrors.New(dErrors.CodePrecondition, "vault record awaits key migration")
			}
			rec.KeyVersion = s.keys.Version()
		}
		enc, err := cipher.Encrypt(s.keys.DataKey(), []byte(value.String()), fieldAAD(subjectID, field, rec.KeyVersion))
		if err != nil {
			return nil, err
		}
		_, replaced := rec.Fields[field]
		rec.Fields[field] = enc
		rec.UpdatedAt = now
		return &audit.ComplianceEvent{
			Action: audit.EventVaultFieldUpdated,
			Details: map[string]string{
				"field":       field.String(),
				"replaced":    strconv.FormatBool(replaced),
				"key_version": strconv.Itoa(rec.KeyVersion),
			},
		}, nil
	})
}

// ReadField decrypts one field for a caller whose capability covers it.
func (s *Service) ReadField(ctx context.Context, subjectID id.SubjectID, field models.FieldName, grant models.Capability) (plaintext string, err error) {
	values, err := s.readFields(ctx, "read_field", subjectID, []models.FieldName{field}, grant)
	if err != nil {
		return "", err
	}
	v, ok := values[field]
	if !ok {
		return "", dErrors.New(dErrors.CodeNotFound, "vault field not set")
	}
	return v, nil
}

// ReadFields decrypts the requested fields. Every field must be covered by
// grant or nothing is returned. Fields the subject never supplied are
// omitted from the result.
func (s *Service) ReadFields(ctx context.Context, subjectID id.SubjectID, fields []models.FieldName, grant models.Capability) (map[models.FieldName]string, error) {
	if len(fields) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "at least one field required")
	}
	return s.readFields(ctx, "read_fields", subjectID, fields, grant)
}

func (s *Service) readFields(ctx context.Context, op string, subjectID id.SubjectID, fields []models.FieldName, grant models.Capability) (out map[models.FieldName]string, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "vault."+op, trace.WithAttributes(attribute.Int("vault.field_count", len(fields))))
	defer func() {
		s.metrics.Observe(op, start, err)
		endSpan(span, err)
	}()

	if subjectID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "subject ID required")
	}
	for _, f := range fields {
		if !f.IsValid() {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "unknown vault field")
		}
	}

	now := requestcontext.Now(ctx)
	var denied []string
	for _, f := range fields {
		if !grant.Permits(subjectID, f, now) {
			denied = append(denied, f.String())
			s.metrics.IncAccessDenied(f.String())
		}
	}
	if len(denied) > 0 {
		s.security.Emit(ctx, audit.SecurityEvent{
			Timestamp: now,
			SubjectID: subjectID,
			Action:    audit.EventVaultAccessDenied,
			Reason:    "capability does not cover requested fields",
			IP:        requestcontext.ClientIP(ctx),
			RequestID: requestcontext.RequestID(ctx),
			ActorID:   grant.Actor,
			Severity:  audit.SeverityWarning,
			Details:   map[string]string{"fields": strings.Join(denied, ","), "purpose": grant.Purpose},
		})
		s.logger.WarnContext(ctx, "vault access denied",
			"subject_id", subjectID.String(),
			"actor", grant.Actor,
			"fields", denied,
		)
		return nil, dErrors.New(dErrors.CodeForbidden, "not authorized to read requested vault fields")
	}

	rec, err := s.store.Get(ctx, subjectID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "vault record not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load vault record")
	}
	if rec.KeyVersion != s.keys.Version() && len(rec.Fields) > 0 {
		return nil, dErrors.New(dErrors.CodePrecondition, "vault record awaits key migration")
	}

	out = make(map[models.FieldName]string, len(fields))
	var accessed []string
	for _, f := range fields {
		enc, ok := rec.Fields[f]
		if !ok {
			continue
		}
		plaintext, err := cipher.Decrypt(s.keys.DataKey(), enc, fieldAAD(subjectID, f, rec.KeyVersion))
		if err != nil {
			s.integrityFailure(ctx, subjectID, f, grant.Actor, now)
			return nil, err
		}
		out[f] = string(plaintext)
		accessed = append(accessed, f.String())
	}

	s.ops.Track(ctx, audit.OpsEvent{
		Timestamp: now,
		SubjectID: subjectID,
		Action:    audit.EventVaultFieldRead,
		RequestID: requestcontext.RequestID(ctx),
		Details: map[string]string{
			"fields":  strings.Join(accessed, ","),
			"actor":   grant.Actor,
			"purpose": grant.Purpose,
		},
	})
	return out, nil
}

func (s *Service) integrityFailure(ctx context.Context, subjectID id.SubjectID, field models.FieldName, actor string, now time.Time) {
	s.metrics.IncIntegrityFailure()
	s.security.Emit(ctx, audit.SecurityEvent{
		Timestamp: now,
		SubjectID: subjectID,
		Action:    audit.EventVaultIntegrityFailure,
		Reason:    "ciphertext failed authentication",
		RequestID: requestcontext.RequestID(ctx),
		ActorID:   actor,
		Severity:  audit.SeverityCritical,
		Details:   map[string]string{"field": field.String()},
	})
	s.logger.ErrorContext(ctx, "vault integrity failure",
		"subject_id", subjectID.String(),
		"field", field.String(),
	)
}

// SetEmail records the subject's lookup email. Emails are unique across
// subjects, compared case-insensitively.
func (s *Service) SetEmail(ctx context.Context, subjectID id.SubjectID, address string) (err error) {
	start := time.Now()
	defer func() { s.metrics.Observe("set_email", start, err) }()

	if subjectID.IsNil() {
		return dErrors.New(dErrors.CodeInvalidInput, "subject ID required")
	}
	normalized, err := email.Normalize(address)
	if err != nil {
		return err
	}
	return s.mutate(ctx, subjectID, true, func(rec *models.Record, now time.Time) (*audit.ComplianceEvent, error) {
		if rec.IsAnonymized() {
			return nil, dErrors.New(dErrors.CodePrecondition, "subject data has been erased")
		}
		if rec.Email == normalized {
			return nil, nil
		}
		replaced := rec.Email != ""
		rec.Email = normalized
		rec.UpdatedAt = now
		return &audit.ComplianceEvent{
			Action:  audit.EventVaultFieldUpdated,
			Details: map[string]string{"field": "email", "replaced": strconv.FormatBool(replaced)},
		}, nil
	})
}

// FindByEmail resolves a lookup email to its subject.
func (s *Service) FindByEmail(ctx context.Context, address string) (id.SubjectID, error) {
	normalized, err := email.Normalize(address)
	if err != nil {
		return id.SubjectID{}, err
	}
	rec, err := s.store.FindByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return id.SubjectID{}, dErrors.New(dErrors.CodeNotFound, "no subject for email")
		}
		return id.SubjectID{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up email")
	}
	return rec.SubjectID, nil
}

// Anonymize erases every encrypted field and the lookup email of a subject.
// The record itself remains so that erasure is provable. Erasing an already
// erased record is a no-op.
func (s *Service) Anonymize(ctx context.Context, subjectID id.SubjectID, reason string) (err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "vault.Anonymize")
	defer func() {
		s.metrics.Observe("anonymize", start, err)
		endSpan(span, err)
	}()

	if subjectID.IsNil() {
		return dErrors.New(dErrors.CodeInvalidInput, "subject ID required")
	}
	err = s.mutate(ctx, subjectID, false, func(rec *models.Record, now time.Time) (*audit.ComplianceEvent, error) {
		if rec.IsAnonymized() {
			return nil, nil
		}
		removed := len(rec.Fields)
		rec.Fields = make(map[models.FieldName]cipher.EncryptedField)
		rec.Email = ""
		rec.UpdatedAt = now
		rec.AnonymizedAt = &now
		return &audit.ComplianceEvent{
			Action: audit.EventVaultAnonymized,
			Reason: reason,
			Details: map[string]string{
				"fields_removed": strconv.Itoa(removed),
			},
		}, nil
	})
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "vault record not found")
	}
	return err
}

type mutation func(rec *models.Record, now time.Time) (*audit.ComplianceEvent, error)

// mutate runs fn against the latest record and saves it with a version
// check, retrying on conflict. A nil event from fn means nothing changed.
func (s *Service) mutate(ctx context.Context, subjectID id.SubjectID, create bool, fn mutation) error {
	for attempt := 1; ; attempt++ {
		err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
			now := requestcontext.Now(ctx)
			rec, err := s.store.Get(ctx, subjectID)
			switch {
			case errors.Is(err, sentinel.ErrNotFound) && create:
				rec = models.NewRecord(subjectID, s.keys.Version(), now)
			case err != nil:
				return err
			}
			expected := rec.Version

			event, err := fn(rec, now)
			if err != nil || event == nil {
				return err
			}
			if err := s.store.Save(ctx, rec, expected); err != nil {
				return err
			}

			event.Timestamp = now
			event.SubjectID = subjectID
			event.RequestID = requestcontext.RequestID(ctx)
			if actor := requestcontext.ReviewerID(ctx); !actor.IsNil() {
				event.ActorID = actor.String()
			}
			if err := s.compliance.Emit(ctx, *event); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record vault audit event")
			}
			return nil
		})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, sentinel.ErrConflict):
			s.metrics.IncCASConflict()
			if attempt >= s.maxAttempts {
				return dErrors.Wrap(err, dErrors.CodeConflict, "vault record modified concurrently, please retry")
			}
			continue
		case errors.Is(err, sentinel.ErrAlreadyUsed):
			return dErrors.New(dErrors.CodeConflict, "email already registered")
		case errors.Is(err, sentinel.ErrNotFound):
			return err
		}
		var de *dErrors.Error
		if errors.As(err, &de) {
			return err
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save vault record")
	}
}

// fieldAAD binds a ciphertext to its subject, field and key generation so
// it cannot be replayed into another slot.
func fieldAAD(subjectID id.SubjectID, field models.FieldName, keyVersion int) []byte {
	return []byte(subjectID.String() + "|" + field.String() + "|" + strconv.Itoa(keyVersion))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	}
	span.End()
}

type nopSecurity struct{}

func (nopSecurity) Emit(context.Context, audit.SecurityEvent) {}

type nopOps struct{}

func (nopOps) Track(context.Context, audit.OpsEvent) {}
