package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"aegis/internal/credential/metrics"
	"aegis/internal/credential/models"
	"aegis/internal/credential/signer"
	"aegis/internal/risk"
	id "aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
	"aegis/pkg/platform/audit"
	"aegis/pkg/platform/sentinel"
	txcontext "aegis/pkg/platform/tx"
	"aegis/pkg/requestcontext"
)

// Store persists credentials. Status changes are compare-and-swap on the
// previous status.
type Store interface {
	Get(ctx context.Context, credentialID id.CredentialID) (*models.Credential, error)
	GetByVerification(ctx context.Context, verificationID id.VerificationID) (*models.Credential, error)
	Create(ctx context.Context, c *models.Credential) error
	UpdateStatus(ctx context.Context, c *models.Credential, from models.Status) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Credential, error)
	MarkExpired(ctx context.Context, ids []id.CredentialID, at time.Time) ([]id.CredentialID, error)
}

const (
	defaultIssuer      = "aegis"
	defaultMaxAttempts = 3
	expiryBatchSize    = 100
	validityYears      = 5
)

// Service issues and manages credentials. It is the only holder of the
// signing key.
type Service struct {
	store      Store
	signer     *signer.Signer
	tx         txcontext.Runner
	compliance audit.Compliance
	security   audit.Security
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	issuer     string
	validity   time.Duration
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

// WithTxRunner makes each credential write and its compliance event atomic.
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

// WithValidity replaces the default five calendar years.
func WithValidity(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.validity = d
		}
	}
}

// WithIssuer sets the iss claim of exported tokens.
func WithIssuer(issuer string) Option {
	return func(s *Service) {
		if issuer != "" {
			s.issuer = issuer
		}
	}
}

func New(store Store, sig *signer.Signer, compliance audit.Compliance, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("credential store is required")
	}
	if sig == nil {
		return nil, errors.New("signer is required")
	}
	if compliance == nil {
		return nil, errors.New("compliance publisher is required")
	}
	s := &Service{
		store:      store,
		signer:     sig,
		compliance: compliance,
		tx:         txcontext.NopRunner{},
		security:   nopSecurity{},
		logger:     slog.Default(),
		tracer:     otel.Tracer("aegis/credential"),
		issuer:     defaultIssuer,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// IssueRequest carries the approved verification a credential attests to.
type IssueRequest struct {
	VerificationID id.VerificationID
	SubjectID      id.SubjectID
	// Decision must be "approved".
	Decision       string
	CompositeScore float64
	Tier           risk.Tier
	Checks         map[string]bool
}

const decisionApproved = "approved"

// Issue signs a credential for an approved verification. A verification
// gets at most one credential; issuing again returns it.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (c *models.Credential, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "credential.Issue",
		trace.WithAttributes(attribute.String("verification.id", req.VerificationID.String())))
	defer func() {
		s.metrics.Observe("issue", start, err)
		endSpan(span, err)
	}()

	if req.VerificationID.IsNil() || req.SubjectID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "verification and subject IDs required")
	}
	if req.Decision != decisionApproved {
		return nil, dErrors.New(dErrors.CodePrecondition, "credentials are only issued for approved verifications")
	}
	if existing, err := s.store.GetByVerification(ctx, req.VerificationID); err == nil {
		return existing, nil
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up credential")
	}

	c, err = s.mint(ctx, req)
	if err != nil {
		return nil, err
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Create(ctx, c); err != nil {
			return err
		}
		return s.compliance.Emit(ctx, audit.ComplianceEvent{
			Timestamp:      c.IssuedAt,
			SubjectID:      c.SubjectID,
			VerificationID: c.VerificationRequestID,
			Action:         audit.EventCredentialIssued,
			Decision:       decisionApproved,
			RequestID:      requestcontext.RequestID(ctx),
			Details: map[string]string{
				"credential_id": c.ID.String(),
				"digest":        c.DigestHex(),
				"algorithm":     c.Algorithm,
				"expiry_at":     c.ExpiryAt.Format(time.RFC3339),
			},
		})
	})
	if errors.Is(err, sentinel.ErrAlreadyUsed) {
		return s.store.GetByVerification(ctx, req.VerificationID)
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue credential")
	}

	s.metrics.IncIssued(string(req.Tier))
	s.logger.InfoContext(ctx, "credential issued",
		"credential_id", c.ID.String(),
		"verification_id", c.VerificationRequestID.String(),
		"expiry_at", c.ExpiryAt,
	)
	return c, nil
}

func (s *Service) mint(ctx context.Context, req IssueRequest) (*models.Credential, error) {
	issuedAt := requestcontext.Now(ctx).UTC().Truncate(time.Second)
	expiryAt := issuedAt.AddDate(validityYears, 0, 0)
	if s.validity > 0 {
		expiryAt = issuedAt.Add(s.validity).Truncate(time.Second)
	}

	c := &models.Credential{
		ID:                    id.CredentialID(uuid.New()),
		SubjectID:             req.SubjectID,
		VerificationRequestID: req.VerificationID,
		Algorithm:             s.signer.Algorithm(),
		IssuedAt:              issuedAt,
		ExpiryAt:              expiryAt,
		Status:                models.StatusActive,
	}
	checks := make(map[string]bool, len(models.CheckCategories))
	for _, category := range models.CheckCategories {
		checks[category] = req.Checks[category]
	}
	c.Summary = models.Summary{
		Schema:                models.SchemaV1,
		CredentialID:          c.ID,
		SubjectID:             c.SubjectID,
		VerificationRequestID: c.VerificationRequestID,
		CompositeRiskScore:    req.CompositeScore,
		RiskTier:              req.Tier,
		Checks:                checks,
		IssuedAt:              issuedAt,
		ExpiryAt:              expiryAt,
	}
	digest := c.Summary.Digest()
	c.Digest = digest[:]
	sig, err := s.signer.Sign(c.Digest)
	if err != nil {
		return nil, err
	}
	c.Signature = sig
	return c, nil
}

func (s *Service) Get(ctx context.Context, credentialID id.CredentialID) (*models.Credential, error) {
	c, err := s.store.Get(ctx, credentialID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "credential not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load credential")
	}
	return c, nil
}

// Verify recomputes the digest of the stored summary and checks the
// signature under the issuer's public key. A mismatch is a security event,
// not an error.
func (s *Service) Verify(ctx context.Context, credentialID id.CredentialID) (valid bool, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "credential.Verify")
	defer func() {
		s.metrics.Observe("verify", start, err)
		endSpan(span, err)
	}()

	c, err := s.Get(ctx, credentialID)
	if err != nil {
		return false, err
	}
	return s.signatureValid(ctx, c), nil
}

func (s *Service) signatureValid(ctx context.Context, c *models.Credential) bool {
	reason := ""
	if !c.DigestMatches() {
		reason = "summary does not match stored digest"
	} else if err := signer.VerifyDigest(s.signer.PublicKey(), c.Digest, c.Signature); err != nil {
		reason = "signature does not verify"
	}
	if reason == "" {
		return true
	}
	s.metrics.IncInvalidSignature()
	s.security.Emit(ctx, audit.SecurityEvent{
		Timestamp:      requestcontext.Now(ctx),
		SubjectID:      c.SubjectID,
		VerificationID: c.VerificationRequestID,
		Action:         audit.EventCredentialSignatureInvalid,
		Reason:         reason,
		IP:             requestcontext.ClientIP(ctx),
		RequestID:      requestcontext.RequestID(ctx),
		Severity:       audit.SeverityCritical,
		Details:        map[string]string{"credential_id": c.ID.String()},
	})
	s.logger.ErrorContext(ctx, "stored credential failed verification",
		"credential_id", c.ID.String(),
		"reason", reason,
	)
	return false
}

// VerifyDocument checks a portable credential document using only the
// public key, exactly as a third party would.
func (s *Service) VerifyDocument(_ context.Context, doc models.Document) error {
	return signer.VerifyDocument(s.signer.PublicKey(), doc)
}

// CheckResult answers "is this credential good right now".
type CheckResult struct {
	CredentialID   id.CredentialID   `json:"credential_id"`
	SubjectID      id.SubjectID      `json:"subject_id"`
	VerificationID id.VerificationID `json:"verification_request_id"`
	Status         models.Status     `json:"status"`
	SignatureValid bool              `json:"signature_valid"`
	Valid          bool              `json:"valid"`
	IssuedAt       time.Time         `json:"issued_at"`
	ExpiryAt       time.Time         `json:"expiry_at"`
}

func (s *Service) Check(ctx context.Context, credentialID id.CredentialID) (CheckResult, error) {
	c, err := s.Get(ctx, credentialID)
	if err != nil {
		return CheckResult{}, err
	}
	status := c.EffectiveStatus(requestcontext.Now(ctx))
	sigOK := s.signatureValid(ctx, c)
	return CheckResult{
		CredentialID:   c.ID,
		SubjectID:      c.SubjectID,
		VerificationID: c.VerificationRequestID,
		Status:         status,
		SignatureValid: sigOK,
		Valid:          sigOK && status == models.StatusActive,
		IssuedAt:       c.IssuedAt,
		ExpiryAt:       c.ExpiryAt,
	}, nil
}

// Revoke withdraws an active credential.
func (s *Service) Revoke(ctx context.Context, credentialID id.CredentialID, reason string) (c *models.Credential, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "credential.Revoke")
	defer func() {
		s.metrics.Observe("revoke", start, err)
		endSpan(span, err)
	}()

	if reason == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "revocation reason required")
	}
	for attempt := 1; ; attempt++ {
		c, err = s.Get(ctx, credentialID)
		if err != nil {
			return nil, err
		}
		from := c.Status
		changed, err := c.Revoke(reason, requestcontext.Now(ctx))
		if err != nil {
			return nil, err
		}
		if !changed {
			return c, nil
		}
		err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
			if err := s.store.UpdateStatus(ctx, c, from); err != nil {
				return err
			}
			return s.compliance.Emit(ctx, s.statusEvent(ctx, c, audit.EventCredentialRevoked))
		})
		if err == nil {
			s.metrics.IncRevoked()
			s.logger.InfoContext(ctx, "credential revoked", "credential_id", c.ID.String())
			return c, nil
		}
		if !errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke credential")
		}
		if attempt >= defaultMaxAttempts {
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "credential modified concurrently, please retry")
		}
	}
}

// ExpireDue records expiry of every active credential past its expiry time
// and returns how many it expired.
func (s *Service) ExpireDue(ctx context.Context) (expired int, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "credential.ExpireDue")
	defer func() {
		s.metrics.Observe("expire_due", start, err)
		endSpan(span, err)
	}()

	now := requestcontext.Now(ctx)
	for {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		due, err := s.store.ListDue(ctx, now, expiryBatchSize)
		if err != nil {
			return expired, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list due credentials")
		}
		if len(due) == 0 {
			break
		}
		n, err := s.expireBatch(ctx, due, now)
		if err != nil {
			return expired, err
		}
		expired += n
		if len(due) < expiryBatchSize {
			break
		}
	}
	if expired > 0 {
		s.metrics.AddExpired(expired)
		s.logger.InfoContext(ctx, "credentials expired", "count", expired)
	}
	return expired, nil
}

func (s *Service) expireBatch(ctx context.Context, due []*models.Credential, now time.Time) (int, error) {
	byID := make(map[id.CredentialID]*models.Credential, len(due))
	ids := make([]id.CredentialID, 0, len(due))
	for _, c := range due {
		byID[c.ID] = c
		ids = append(ids, c.ID)
	}
	var changed []id.CredentialID
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		changed, err = s.store.MarkExpired(ctx, ids, now)
		if err != nil {
			return err
		}
		for _, credentialID := range changed {
			c := byID[credentialID]
			c.Expire(now)
			if err := s.compliance.Emit(ctx, s.statusEvent(ctx, c, audit.EventCredentialExpired)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to expire credentials")
	}
	return len(changed), nil
}

func (s *Service) statusEvent(ctx context.Context, c *models.Credential, action audit.AuditEvent) audit.ComplianceEvent {
	return audit.ComplianceEvent{
		Timestamp:      requestcontext.Now(ctx),
		SubjectID:      c.SubjectID,
		VerificationID: c.VerificationRequestID,
		Action:         action,
		Reason:         c.StatusReason,
		RequestID:      requestcontext.RequestID(ctx),
		Details: map[string]string{
			"credential_id": c.ID.String(),
			"status":        string(c.Status),
		},
	}
}

// PublicKey is published for offline verification.
func (s *Service) PublicKey() (signer.PublicKeyInfo, error) {
	return s.signer.PublicKeyInfo()
}

// ExportJWT renders an active credential as an RS256 token.
func (s *Service) ExportJWT(ctx context.Context, credentialID id.CredentialID) (string, error) {
	c, err := s.Get(ctx, credentialID)
	if err != nil {
		return "", err
	}
	now := requestcontext.Now(ctx)
	if status := c.EffectiveStatus(now); status != models.StatusActive {
		return "", dErrors.New(dErrors.CodePrecondition, "credential is "+string(status))
	}
	return s.signer.ExportJWT(c, s.issuer, now)
}

// ParseJWT validates a token exported by this issuer.
func (s *Service) ParseJWT(token string) (*signer.Claims, error) {
	return signer.ParseJWT(s.signer.PublicKey(), token, s.issuer)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	}
	span.End()
}

type nopSecurity struct{}

func (nopSecurity) Emit(context.Context, audit.SecurityEvent) {}
