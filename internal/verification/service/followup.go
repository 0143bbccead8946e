package service

import (
	"context"

	"aegis/internal/verification/models"
	"aegis/internal/verification/ports"
)

// followUp runs the after-commit work of a decided request. The decision is
// already durable; a failure here is logged and counted and can be repaired
// by replaying (EnsureCredential, or re-enqueueing for review).
func (s *Service) followUp(ctx context.Context, req *models.Request) {
	switch req.State {
	case models.StateApproved:
		if s.issuer == nil {
			return
		}
		credentialID, err := s.issuer.IssueFor(ctx, s.approval(req))
		if err != nil {
			s.metrics.IncFollowUpFailure("credential")
			s.logger.ErrorContext(ctx, "credential issuance failed for approved verification",
				"verification_id", req.ID.String(),
				"error", err,
			)
			return
		}
		s.logger.InfoContext(ctx, "credential issued",
			"verification_id", req.ID.String(),
			"credential_id", credentialID.String(),
		)
	case models.StateManualReview:
		if s.reviews == nil {
			return
		}
		if err := s.reviews.Enqueue(ctx, s.reviewTask(req)); err != nil {
			s.metrics.IncFollowUpFailure("review")
			s.logger.ErrorContext(ctx, "failed to enqueue manual review",
				"verification_id", req.ID.String(),
				"error", err,
			)
		}
	}
}

func (s *Service) approval(req *models.Request) ports.Approval {
	a := ports.Approval{
		VerificationID: req.ID,
		SubjectID:      req.SubjectID,
		Decision:       string(req.Decision),
		Tier:           req.Tier,
		Checks:         req.CheckFlags(s.assessor.Policy().Thresholds.SubScorePassMax),
		ApprovedAt:     req.AppliedTransitions[models.StateApproved],
	}
	if latest, ok := req.LatestAssessment(); ok {
		a.CompositeScore = latest.CompositeScore
	}
	return a
}

func (s *Service) reviewTask(req *models.Request) ports.ReviewTask {
	t := ports.ReviewTask{
		VerificationID: req.ID,
		SubjectID:      req.SubjectID,
		Tier:           req.Tier,
		Reason:         req.DecisionReason,
		HardFails:      req.HardFails(),
		RequestedAt:    req.AppliedTransitions[models.StateManualReview],
	}
	if latest, ok := req.LatestAssessment(); ok {
		t.CompositeScore = latest.CompositeScore
	}
	return t
}
