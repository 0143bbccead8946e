// Package worker applies reviewer decision commands to verification
// requests.
package worker

import (
	"context"
	"log/slog"

	"aegis/internal/review/bus"
	"aegis/internal/verification/models"
	verification "aegis/internal/verification/service"
	dErrors "aegis/pkg/domain-errors"
	"aegis/pkg/requestcontext"
)

// Applier is the slice of the verification service the worker drives.
type Applier interface {
	ApplyReviewDecision(ctx context.Context, cmd verification.ReviewDecision) (*models.Request, error)
}

type Worker struct {
	applier Applier
	logger  *slog.Logger
}

func New(applier Applier, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{applier: applier, logger: logger}
}

// Handle applies one command. Commands the state machine refuses for good
// (wrong state, bad input, unknown request) are logged and acknowledged so
// they do not block the stream; anything else is returned for redelivery.
func (w *Worker) Handle(ctx context.Context, cmd bus.Command) error {
	ctx = requestcontext.WithRequestID(ctx, "review:"+cmd.ReviewID.String())
	ctx = requestcontext.WithTime(ctx, cmd.DecidedAt)

	req, err := w.applier.ApplyReviewDecision(ctx, verification.ReviewDecision{
		VerificationID: cmd.VerificationID,
		Decision:       models.Decision(cmd.Decision),
		ReviewerID:     cmd.ReviewerID,
		Notes:          cmd.Notes,
	})
	if err == nil {
		w.logger.InfoContext(ctx, "review command applied",
			"review_id", cmd.ReviewID.String(),
			"verification_id", cmd.VerificationID.String(),
			"state", req.State.String(),
		)
		return nil
	}

	switch dErrors.CodeOf(err) {
	case dErrors.CodePrecondition, dErrors.CodeInvalidInput, dErrors.CodeNotFound:
		w.logger.WarnContext(ctx, "review command rejected",
			"review_id", cmd.ReviewID.String(),
			"verification_id", cmd.VerificationID.String(),
			"error", err,
		)
		return nil
	default:
		return err
	}
}
