package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/internal/review/bus"
	reviewmodels "aegis/internal/review/models"
	"aegis/internal/verification/models"
	verification "aegis/internal/verification/service"
	id "aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
	"aegis/pkg/requestcontext"
)

type applierFunc func(ctx context.Context, cmd verification.ReviewDecision) (*models.Request, error)

func (f applierFunc) ApplyReviewDecision(ctx context.Context, cmd verification.ReviewDecision) (*models.Request, error) {
	return f(ctx, cmd)
}

func command() bus.Command {
	return bus.Command{
		ReviewID:       id.ReviewID(uuid.New()),
		VerificationID: id.VerificationID(uuid.New()),
		Decision:       reviewmodels.DecisionRejected,
		ReviewerID:     id.ReviewerID(uuid.New()),
		Notes:          "document photo manipulated",
		DecidedAt:      time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
	}
}

func TestHandleAppliesDecision(t *testing.T) {
	cmd := command()
	var got verification.ReviewDecision
	var at time.Time
	w := New(applierFunc(func(ctx context.Context, d verification.ReviewDecision) (*models.Request, error) {
		got = d
		at = requestcontext.Now(ctx)
		return &models.Request{State: models.StateRejected}, nil
	}), nil)

	require.NoError(t, w.Handle(context.Background(), cmd))
	assert.Equal(t, cmd.VerificationID, got.VerificationID)
	assert.Equal(t, models.DecisionRejected, got.Decision)
	assert.Equal(t, cmd.ReviewerID, got.ReviewerID)
	assert.Equal(t, cmd.Notes, got.Notes)
	assert.Equal(t, cmd.DecidedAt, at)
}

func TestHandleAcknowledgesPermanentRejections(t *testing.T) {
	for _, code := range []dErrors.Code{dErrors.CodePrecondition, dErrors.CodeInvalidInput, dErrors.CodeNotFound} {
		w := New(applierFunc(func(context.Context, verification.ReviewDecision) (*models.Request, error) {
			return nil, dErrors.New(code, "refused")
		}), nil)
		assert.NoError(t, w.Handle(context.Background(), command()), string(code))
	}
}

func TestHandleReturnsTransientErrors(t *testing.T) {
	w := New(applierFunc(func(context.Context, verification.ReviewDecision) (*models.Request, error) {
		return nil, dErrors.Wrap(errors.New("connection reset"), dErrors.CodeInternal, "failed to persist verification")
	}), nil)
	assert.Error(t, w.Handle(context.Background(), command()))

	w = New(applierFunc(func(context.Context, verification.ReviewDecision) (*models.Request, error) {
		return nil, dErrors.New(dErrors.CodeConflict, "verification modified concurrently, please retry")
	}), nil)
	assert.Error(t, w.Handle(context.Background(), command()))
}
