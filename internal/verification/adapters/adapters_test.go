package adapters

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	credmodels "aegis/internal/credential/models"
	credential "aegis/internal/credential/service"
	"aegis/internal/credential/signer"
	credstore "aegis/internal/credential/store"
	"aegis/internal/review/bus"
	reviewmodels "aegis/internal/review/models"
	review "aegis/internal/review/service"
	reviewstore "aegis/internal/review/store"
	"aegis/internal/review/worker"
	"aegis/internal/risk"
	"aegis/internal/signals"
	"aegis/internal/verification/models"
	verification "aegis/internal/verification/service"
	"aegis/internal/verification/store"
	id "aegis/pkg/domain"
	"aegis/pkg/platform/audit"
	"aegis/pkg/requestcontext"
)

type fixedCollector struct {
	score float64
}

func (c fixedCollector) Collect(context.Context, signals.SubjectContext) signals.Result {
	return signals.Result{Signals: []risk.Signal{
		{Source: risk.SourceDevice, Score: c.score, Confidence: 1},
		{Source: risk.SourceGeolocation, Score: c.score, Confidence: 1},
		{Source: risk.SourceBehavior, Score: c.score, Confidence: 1},
	}}
}

type discardCompliance struct{}

func (discardCompliance) Emit(context.Context, audit.ComplianceEvent) error { return nil }

// FlowSuite runs a verification end to end through the real credential and
// review modules.
type FlowSuite struct {
	suite.Suite
	credentials *credential.Service
	reviews     *review.Service
	commands    *bus.ChannelBus
	logger      *slog.Logger
	ctx         context.Context
}

func TestFlowSuite(t *testing.T) {
	suite.Run(t, new(FlowSuite))
}

func (s *FlowSuite) SetupTest() {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	s.Require().NoError(err)
	sig, err := signer.New(key)
	s.Require().NoError(err)

	s.credentials, err = credential.New(credstore.NewInMemory(), sig, discardCompliance{})
	s.Require().NoError(err)
	s.commands = bus.NewChannelBus(8)
	s.reviews, err = review.New(reviewstore.NewInMemory(), s.commands, discardCompliance{})
	s.Require().NoError(err)
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s.ctx = requestcontext.WithTime(context.Background(), time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
}

func (s *FlowSuite) verifier(score float64) *verification.Service {
	engine, err := risk.NewEngine(risk.DefaultPolicy())
	s.Require().NoError(err)
	svc, err := verification.New(store.NewInMemory(), engine, discardCompliance{},
		verification.WithLogger(s.logger),
		verification.WithSignalCollector(fixedCollector{score: score}),
		verification.WithCredentialIssuer(NewCredentialIssuer(s.credentials)),
		verification.WithReviewQueue(NewReviewQueue(s.reviews)),
	)
	s.Require().NoError(err)
	return svc
}

func (s *FlowSuite) completeAll(svc *verification.Service, req *models.Request, score float64) *models.Request {
	var err error
	for _, step := range req.RequiredSteps {
		var sigs []risk.Signal
		switch step {
		case models.StepDocumentUpload:
			sigs = []risk.Signal{{Source: risk.SourceDocument, Score: score, Confidence: 1}}
		case models.StepFaceVerification:
			sigs = []risk.Signal{{Source: risk.SourceBiometric, Score: score, Confidence: 1}}
		}
		req, err = svc.CompleteStep(s.ctx, req.ID, verification.StepReport{
			Step:     step,
			Outcome:  models.OutcomePassed,
			SubScore: 10,
			Signals:  sigs,
		})
		s.Require().NoError(err, "step %s", step)
	}
	return req
}

func (s *FlowSuite) TestApprovedRequestGetsVerifiableCredential() {
	svc := s.verifier(18)
	req, err := svc.Initiate(s.ctx, id.SubjectID(uuid.New()))
	s.Require().NoError(err)

	req = s.completeAll(svc, req, 18)
	s.Require().Equal(models.StateApproved, req.State)

	credentialID, err := svc.EnsureCredential(s.ctx, req.ID)
	s.Require().NoError(err)

	check, err := s.credentials.Check(s.ctx, credentialID)
	s.Require().NoError(err)
	s.True(check.Valid)
	s.Equal(req.ID, check.VerificationID)
	s.Equal(check.IssuedAt.AddDate(5, 0, 0), check.ExpiryAt)

	c, err := s.credentials.Get(s.ctx, credentialID)
	s.Require().NoError(err)
	s.Equal(risk.TierLow, c.Summary.RiskTier)
	s.True(c.Summary.Checks["biometric"])
	s.NoError(s.credentials.VerifyDocument(s.ctx, c.Document()))
}

func (s *FlowSuite) TestManualReviewApprovalIssuesCredential() {
	svc := s.verifier(72)
	req, err := svc.Initiate(s.ctx, id.SubjectID(uuid.New()))
	s.Require().NoError(err)
	req = s.completeAll(svc, req, 72)
	s.Require().Equal(models.StateManualReview, req.State)

	pending, err := s.reviews.ListPending(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	task := pending[0]
	s.Equal(req.ID, task.VerificationID)
	s.Equal(reviewmodels.PriorityMedium, task.Priority)

	reviewer := id.ReviewerID(uuid.New())
	_, err = s.reviews.Assign(s.ctx, task.ID, reviewer)
	s.Require().NoError(err)
	_, err = s.reviews.Complete(s.ctx, task.ID, reviewer, reviewmodels.DecisionApproved, "documents re-checked")
	s.Require().NoError(err)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := worker.New(svc, s.logger)
	go func() { _ = s.commands.Run(runCtx, w.Handle, 10*time.Millisecond) }()

	s.Eventually(func() bool {
		got, err := svc.Get(s.ctx, req.ID)
		return err == nil && got.State == models.StateApproved
	}, 2*time.Second, 10*time.Millisecond)

	credentialID, err := svc.EnsureCredential(s.ctx, req.ID)
	s.Require().NoError(err)
	c, err := s.credentials.Get(s.ctx, credentialID)
	s.Require().NoError(err)
	s.Equal(credmodels.StatusActive, c.Status)
	s.Equal(risk.TierHigh, c.Summary.RiskTier)
}
