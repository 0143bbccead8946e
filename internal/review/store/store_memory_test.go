package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/internal/review/models"
	id "aegis/pkg/domain"
	"aegis/pkg/platform/sentinel"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func task(p models.Priority, age time.Duration) *models.Task {
	return &models.Task{
		ID:             id.ReviewID(uuid.New()),
		VerificationID: id.VerificationID(uuid.New()),
		Priority:       p,
		Status:         models.StatusPending,
		CreatedAt:      t0.Add(-age),
	}
}

func TestInMemoryStore_ListPendingOrder(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	lowOld := task(models.PriorityLow, 3*time.Hour)
	urgentNew := task(models.PriorityUrgent, time.Minute)
	urgentOld := task(models.PriorityUrgent, time.Hour)
	medium := task(models.PriorityMedium, 2*time.Hour)
	for _, tk := range []*models.Task{lowOld, urgentNew, urgentOld, medium} {
		require.NoError(t, s.Save(ctx, tk, 0))
	}

	pending, err := s.ListPending(ctx, 10)
	require.NoError(t, err)
	ids := make([]id.ReviewID, len(pending))
	for i, p := range pending {
		ids[i] = p.ID
	}
	assert.Equal(t, []id.ReviewID{urgentOld.ID, urgentNew.ID, medium.ID, lowOld.ID}, ids)

	limited, err := s.ListPending(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestInMemoryStore_OneTaskPerVerification(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	first := task(models.PriorityLow, 0)
	require.NoError(t, s.Save(ctx, first, 0))

	dup := task(models.PriorityHigh, 0)
	dup.VerificationID = first.VerificationID
	assert.ErrorIs(t, s.Save(ctx, dup, 0), sentinel.ErrAlreadyUsed)

	got, err := s.GetByVerification(ctx, first.VerificationID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
}

func TestInMemoryStore_CompareAndSwap(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	tk := task(models.PriorityLow, 0)
	require.NoError(t, s.Save(ctx, tk, 0))
	assert.Equal(t, int64(1), tk.Version)

	stale, err := s.Get(ctx, tk.ID)
	require.NoError(t, err)
	tk.Status = models.StatusInReview
	require.NoError(t, s.Save(ctx, tk, 1))
	assert.ErrorIs(t, s.Save(ctx, stale, 1), sentinel.ErrConflict)

	pending, err := s.ListPending(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = s.Get(ctx, id.ReviewID(uuid.New()))
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}
