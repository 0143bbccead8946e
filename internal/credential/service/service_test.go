package service

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"aegis/internal/credential/models"
	"aegis/internal/credential/signer"
	"aegis/internal/credential/store"
	"aegis/internal/risk"
	id "aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
	"aegis/pkg/platform/audit"
	"aegis/pkg/requestcontext"
)

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
)

func signingKey(t *testing.T) *rsa.PrivateKey {
	keyOnce.Do(func() {
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}
		testKey = k
	})
	return testKey
}

type recordingCompliance struct {
	events []audit.ComplianceEvent
}

func (r *recordingCompliance) Emit(_ context.Context, e audit.ComplianceEvent) error {
	r.events = append(r.events, e)
	return nil
}

func (r *recordingCompliance) actions() []audit.AuditEvent {
	out := make([]audit.AuditEvent, len(r.events))
	for i, e := range r.events {
		out[i] = e.Action
	}
	return out
}

type recordingSecurity struct {
	events []audit.SecurityEvent
}

func (r *recordingSecurity) Emit(_ context.Context, e audit.SecurityEvent) {
	r.events = append(r.events, e)
}

// tamperingStore alters credentials on read, as a modified database row
// would.
type tamperingStore struct {
	*store.InMemoryStore
	tamper func(*models.Credential)
}

func (s *tamperingStore) Get(ctx context.Context, credentialID id.CredentialID) (*models.Credential, error) {
	c, err := s.InMemoryStore.Get(ctx, credentialID)
	if err == nil && s.tamper != nil {
		s.tamper(c)
	}
	return c, err
}

type CredentialServiceSuite struct {
	suite.Suite
	store      *tamperingStore
	signer     *signer.Signer
	compliance *recordingCompliance
	security   *recordingSecurity
	service    *Service
	now        time.Time
	ctx        context.Context
}

func TestCredentialServiceSuite(t *testing.T) {
	suite.Run(t, new(CredentialServiceSuite))
}

func (s *CredentialServiceSuite) SetupTest() {
	var err error
	s.signer, err = signer.New(signingKey(s.T()))
	s.Require().NoError(err)
	s.store = &tamperingStore{InMemoryStore: store.NewInMemory()}
	s.compliance = &recordingCompliance{}
	s.security = &recordingSecurity{}
	s.service, err = New(s.store, s.signer, s.compliance, WithSecurityPublisher(s.security))
	s.Require().NoError(err)
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
}

func (s *CredentialServiceSuite) approval() IssueRequest {
	return IssueRequest{
		VerificationID: id.VerificationID(uuid.New()),
		SubjectID:      id.SubjectID(uuid.New()),
		Decision:       "approved",
		CompositeScore: 18,
		Tier:           risk.TierLow,
		Checks: map[string]bool{
			"geolocation":   true,
			"identity_data": true,
			"document":      true,
			"biometric":     true,
			"behavior":      true,
		},
	}
}

func (s *CredentialServiceSuite) issue() *models.Credential {
	c, err := s.service.Issue(s.ctx, s.approval())
	s.Require().NoError(err)
	return c
}

// =============================================================================
// Construction
// =============================================================================

func (s *CredentialServiceSuite) TestNew() {
	_, err := New(nil, s.signer, s.compliance)
	s.Error(err)
	_, err = New(s.store, nil, s.compliance)
	s.Error(err)
	_, err = New(s.store, s.signer, nil)
	s.Error(err)
}

// =============================================================================
// Issuance
// =============================================================================

func (s *CredentialServiceSuite) TestIssueNamesTheSigningKeySize() {
	key, err := rsa.GenerateKey(rand.Reader, 3072)
	s.Require().NoError(err)
	sig, err := signer.New(key)
	s.Require().NoError(err)
	svc, err := New(store.NewInMemory(), sig, s.compliance)
	s.Require().NoError(err)

	c, err := svc.Issue(s.ctx, s.approval())
	s.Require().NoError(err)
	s.Equal("RSA-3072", c.Algorithm)
	s.NoError(svc.VerifyDocument(s.ctx, c.Document()))
}

func (s *CredentialServiceSuite) TestIssueLowRiskApproval() {
	c := s.issue()

	s.Equal(models.StatusActive, c.Status)
	s.Equal(models.AlgorithmRSA2048, c.Algorithm)
	s.Equal(s.now, c.IssuedAt)
	s.Equal(s.now.AddDate(5, 0, 0), c.ExpiryAt)
	s.Equal(18.0, c.Summary.CompositeRiskScore)
	s.False(c.Summary.Checks["aml"])
	s.True(c.Summary.Checks["document"])
	s.Len(c.Summary.Checks, len(models.CheckCategories))

	valid, err := s.service.Verify(s.ctx, c.ID)
	s.Require().NoError(err)
	s.True(valid)

	s.Require().Len(s.compliance.events, 1)
	e := s.compliance.events[0]
	s.Equal(audit.EventCredentialIssued, e.Action)
	s.Equal(c.VerificationRequestID, e.VerificationID)
	s.Equal(c.DigestHex(), e.Details["digest"])
}

func (s *CredentialServiceSuite) TestIssueIsIdempotentPerVerification() {
	req := s.approval()
	first, err := s.service.Issue(s.ctx, req)
	s.Require().NoError(err)
	second, err := s.service.Issue(s.ctx, req)
	s.Require().NoError(err)

	s.Equal(first.ID, second.ID)
	s.Len(s.compliance.events, 1)
}

func (s *CredentialServiceSuite) TestIssueRequiresApproval() {
	req := s.approval()
	req.Decision = "manual_review"
	_, err := s.service.Issue(s.ctx, req)
	s.True(dErrors.HasCode(err, dErrors.CodePrecondition))

	req = s.approval()
	req.SubjectID = id.SubjectID{}
	_, err = s.service.Issue(s.ctx, req)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	s.Empty(s.compliance.events)
}

func (s *CredentialServiceSuite) TestIssueWithConfiguredValidity() {
	svc, err := New(store.NewInMemory(), s.signer, s.compliance, WithValidity(24*time.Hour))
	s.Require().NoError(err)
	c, err := svc.Issue(s.ctx, s.approval())
	s.Require().NoError(err)
	s.Equal(s.now.Add(24*time.Hour), c.ExpiryAt)
}

// =============================================================================
// Verification
// =============================================================================

func (s *CredentialServiceSuite) TestVerifyDetectsAlteredSummary() {
	c := s.issue()
	s.store.tamper = func(c *models.Credential) { c.Summary.Checks["aml"] = true }

	valid, err := s.service.Verify(s.ctx, c.ID)
	s.Require().NoError(err)
	s.False(valid)

	s.Require().Len(s.security.events, 1)
	s.Equal(audit.EventCredentialSignatureInvalid, s.security.events[0].Action)
	s.Equal(audit.SeverityCritical, s.security.events[0].Severity)

	res, err := s.service.Check(s.ctx, c.ID)
	s.Require().NoError(err)
	s.False(res.Valid)
	s.False(res.SignatureValid)
}

func (s *CredentialServiceSuite) TestVerifyDetectsForgedDigest() {
	c := s.issue()
	s.store.tamper = func(c *models.Credential) {
		c.Summary.CompositeRiskScore = 5
		d := c.Summary.Digest()
		c.Digest = d[:]
	}
	valid, err := s.service.Verify(s.ctx, c.ID)
	s.Require().NoError(err)
	s.False(valid)
}

func (s *CredentialServiceSuite) TestVerifyDocumentWithPublicKeyOnly() {
	c := s.issue()
	info, err := s.service.PublicKey()
	s.Require().NoError(err)
	pub, err := signer.ParsePublicKey([]byte(info.PEM))
	s.Require().NoError(err)

	s.NoError(signer.VerifyDocument(pub, c.Document()))
	s.NoError(s.service.VerifyDocument(s.ctx, c.Document()))

	doc := c.Document()
	doc.SummaryFields[4].Value = "5.00"
	s.True(dErrors.HasCode(s.service.VerifyDocument(s.ctx, doc), dErrors.CodeIntegrity))
}

func (s *CredentialServiceSuite) TestVerifyUnknownCredential() {
	_, err := s.service.Verify(s.ctx, id.CredentialID(uuid.New()))
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

// =============================================================================
// Lifecycle
// =============================================================================

func (s *CredentialServiceSuite) TestRevoke() {
	c := s.issue()

	_, err := s.service.Revoke(s.ctx, c.ID, "")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))

	revoked, err := s.service.Revoke(s.ctx, c.ID, "document reported stolen")
	s.Require().NoError(err)
	s.Equal(models.StatusRevoked, revoked.Status)

	again, err := s.service.Revoke(s.ctx, c.ID, "duplicate request")
	s.Require().NoError(err)
	s.Equal("document reported stolen", again.StatusReason)
	s.Equal([]audit.AuditEvent{audit.EventCredentialIssued, audit.EventCredentialRevoked}, s.compliance.actions())

	res, err := s.service.Check(s.ctx, c.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusRevoked, res.Status)
	s.True(res.SignatureValid)
	s.False(res.Valid)

	_, err = s.service.ExportJWT(s.ctx, c.ID)
	s.True(dErrors.HasCode(err, dErrors.CodePrecondition))
}

func (s *CredentialServiceSuite) TestExpireDue() {
	past := requestcontext.WithTime(context.Background(), s.now.AddDate(-6, 0, 0))
	old, err := s.service.Issue(past, s.approval())
	s.Require().NoError(err)
	fresh := s.issue()

	res, err := s.service.Check(s.ctx, old.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusExpired, res.Status, "past expiry reads as expired before the sweep")

	n, err := s.service.ExpireDue(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, n)

	stored, err := s.service.Get(s.ctx, old.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusExpired, stored.Status)
	s.Require().NotNil(stored.StatusChangedAt)

	active, err := s.service.Get(s.ctx, fresh.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusActive, active.Status)

	n, err = s.service.ExpireDue(s.ctx)
	s.Require().NoError(err)
	s.Zero(n)

	expiredEvents := 0
	for _, e := range s.compliance.events {
		if e.Action == audit.EventCredentialExpired {
			expiredEvents++
			s.Equal(old.ID.String(), e.Details["credential_id"])
		}
	}
	s.Equal(1, expiredEvents)

	_, err = s.service.Revoke(s.ctx, old.ID, "late")
	s.True(dErrors.HasCode(err, dErrors.CodePrecondition))
}

// =============================================================================
// Portability
// =============================================================================

func (s *CredentialServiceSuite) TestJWTRoundTrip() {
	ctx := requestcontext.WithTime(context.Background(), time.Now().UTC())
	c, err := s.service.Issue(ctx, s.approval())
	s.Require().NoError(err)

	token, err := s.service.ExportJWT(ctx, c.ID)
	s.Require().NoError(err)

	claims, err := s.service.ParseJWT(token)
	s.Require().NoError(err)
	s.Equal(c.ID.String(), claims.ID)
	s.Equal(c.VerificationRequestID.String(), claims.VerificationRequestID)
	s.Equal(c.DigestHex(), claims.SummaryDigest)
	s.Equal("aegis", claims.Issuer)

	_, err = s.service.ParseJWT(token + "x")
	s.True(dErrors.HasCode(err, dErrors.CodeIntegrity))
}
