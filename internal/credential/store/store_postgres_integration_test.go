//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"aegis/internal/credential/models"
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
	s.Require().NoError(s.postgres.Truncate(s.ctx, "credentials"))
}

func (s *PostgresStoreSuite) TestCreateOncePerVerification() {
	c := newCredential(t0.AddDate(5, 0, 0))
	s.Require().NoError(s.store.Create(s.ctx, c))

	dup := newCredential(t0.AddDate(5, 0, 0))
	dup.VerificationRequestID = c.VerificationRequestID
	s.ErrorIs(s.store.Create(s.ctx, dup), sentinel.ErrAlreadyUsed)

	got, err := s.store.GetByVerification(s.ctx, c.VerificationRequestID)
	s.Require().NoError(err)
	s.Equal(c.ID, got.ID)
	s.Equal(c.Signature, got.Signature)
	s.Equal(c.Algorithm, got.Algorithm)
	s.True(got.DigestMatches(), "stored summary still hashes to its digest")
	s.True(got.ExpiryAt.Equal(c.ExpiryAt))

	_, err = s.store.Get(s.ctx, id.CredentialID(uuid.New()))
	s.ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.store.GetByVerification(s.ctx, id.VerificationID(uuid.New()))
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestRevokeIsGuardedByPriorStatus() {
	c := newCredential(t0.AddDate(5, 0, 0))
	s.Require().NoError(s.store.Create(s.ctx, c))

	_, err := c.Revoke("fraud", t0.Add(time.Hour))
	s.Require().NoError(err)
	s.Require().NoError(s.store.UpdateStatus(s.ctx, c, models.StatusActive))
	s.ErrorIs(s.store.UpdateStatus(s.ctx, c, models.StatusActive), sentinel.ErrConflict)

	got, err := s.store.Get(s.ctx, c.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusRevoked, got.Status)
	s.Equal("fraud", got.StatusReason)
	s.Require().NotNil(got.StatusChangedAt)
}

func (s *PostgresStoreSuite) TestExpirySweep() {
	due := newCredential(t0.Add(-time.Hour))
	dueEarlier := newCredential(t0.Add(-2 * time.Hour))
	later := newCredential(t0.Add(time.Hour))
	revoked := newCredential(t0.Add(-3 * time.Hour))
	for _, c := range []*models.Credential{due, dueEarlier, later, revoked} {
		s.Require().NoError(s.store.Create(s.ctx, c))
	}
	_, err := revoked.Revoke("fraud", t0)
	s.Require().NoError(err)
	s.Require().NoError(s.store.UpdateStatus(s.ctx, revoked, models.StatusActive))

	list, err := s.store.ListDue(s.ctx, t0, 10)
	s.Require().NoError(err)
	s.Require().Len(list, 2)
	s.Equal(dueEarlier.ID, list[0].ID)
	s.Equal(due.ID, list[1].ID)

	changed, err := s.store.MarkExpired(s.ctx, []id.CredentialID{due.ID, dueEarlier.ID, revoked.ID}, t0)
	s.Require().NoError(err)
	s.ElementsMatch([]id.CredentialID{due.ID, dueEarlier.ID}, changed, "only active rows expire")

	changed, err = s.store.MarkExpired(s.ctx, []id.CredentialID{due.ID}, t0)
	s.Require().NoError(err)
	s.Empty(changed)

	list, err = s.store.ListDue(s.ctx, t0, 10)
	s.Require().NoError(err)
	s.Empty(list)

	got, err := s.store.Get(s.ctx, due.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusExpired, got.Status)
}
