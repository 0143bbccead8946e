//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"aegis/internal/risk"
	"aegis/internal/verification/models"
	id "aegis/pkg/domain"
	"aegis/pkg/platform/sentinel"
	"aegis/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *PostgresStore
	ctx      context.Context
}

func TestPostgresStoreSuite(t *testing.T) {
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = NewPostgres(s.postgres.DB)
	s.ctx = context.Background()
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.Truncate(s.ctx, "verification_requests"))
}

func (s *PostgresStoreSuite) TestDocumentRoundTrip() {
	req := newRequest()
	req.MergeSignals([]risk.Signal{
		{Source: risk.SourceDevice, Score: 20, Confidence: 0.8, Indicators: map[string]float64{"emulator": 0.1}},
	})
	s.Require().NoError(s.store.Save(s.ctx, req, 0))
	s.Equal(int64(1), req.Version)

	got, err := s.store.Get(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(req.SubjectID, got.SubjectID)
	s.Equal(models.StateGeolocationChecked, got.State)
	s.Equal(int64(1), got.Version)
	s.Equal(risk.TierLow, got.Tier)
	s.Contains(got.CompletedSteps, models.StepGeolocationCheck)
	s.Require().Len(got.Assessments, 1)
	s.InDelta(18, got.Assessments[0].CompositeScore, 1e-9)
	s.Equal(req.SignalList(), got.SignalList())

	_, err = s.store.Get(s.ctx, id.VerificationID(uuid.New()))
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestCompareAndSwap() {
	req := newRequest()
	s.Require().NoError(s.store.Save(s.ctx, req, 0))
	s.ErrorIs(s.store.Save(s.ctx, req, 0), sentinel.ErrConflict, "create twice")

	stale, err := s.store.Get(s.ctx, req.ID)
	s.Require().NoError(err)
	fresh, err := s.store.Get(s.ctx, req.ID)
	s.Require().NoError(err)

	_, err = fresh.Abandon(now.Add(time.Minute))
	s.Require().NoError(err)
	s.Require().NoError(s.store.Save(s.ctx, fresh, fresh.Version))
	s.Equal(int64(2), fresh.Version)
	s.ErrorIs(s.store.Save(s.ctx, stale, stale.Version), sentinel.ErrConflict)

	got, err := s.store.Get(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(models.StateRejected, got.State)
	s.Equal(models.ReasonAbandoned, got.DecisionReason)
	s.Equal(int64(2), got.Version)
}

func (s *PostgresStoreSuite) TestListBySubjectNewestFirst() {
	subject := id.SubjectID(uuid.New())
	var ids []id.VerificationID
	for i := range 3 {
		req := models.NewRequest(id.VerificationID(uuid.New()), subject, risk.TierMedium, now.Add(time.Duration(i)*time.Hour))
		s.Require().NoError(s.store.Save(s.ctx, req, 0))
		ids = append(ids, req.ID)
	}
	s.Require().NoError(s.store.Save(s.ctx, newRequest(), 0))

	list, err := s.store.ListBySubject(s.ctx, subject)
	s.Require().NoError(err)
	s.Require().Len(list, 3)
	s.Equal(ids[2], list[0].ID)
	s.Equal(ids[0], list[2].ID)
	for _, req := range list {
		s.Equal(int64(1), req.Version)
	}

	list, err = s.store.ListBySubject(s.ctx, id.SubjectID(uuid.New()))
	s.Require().NoError(err)
	s.Empty(list)
}
