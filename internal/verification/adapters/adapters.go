// Package adapters connects the verification ports to the credential and
// review modules.
package adapters

import (
	"context"

	credential "aegis/internal/credential/service"
	review "aegis/internal/review/service"
	"aegis/internal/verification/ports"
	id "aegis/pkg/domain"
)

// CredentialIssuer issues through the credential service.
type CredentialIssuer struct {
	credentials *credential.Service
}

func NewCredentialIssuer(credentials *credential.Service) *CredentialIssuer {
	return &CredentialIssuer{credentials: credentials}
}

func (a *CredentialIssuer) IssueFor(ctx context.Context, approval ports.Approval) (id.CredentialID, error) {
	c, err := a.credentials.Issue(ctx, credential.IssueRequest{
		VerificationID: approval.VerificationID,
		SubjectID:      approval.SubjectID,
		Decision:       approval.Decision,
		CompositeScore: approval.CompositeScore,
		Tier:           approval.Tier,
		Checks:         approval.Checks,
	})
	if err != nil {
		return id.CredentialID{}, err
	}
	return c.ID, nil
}

// ReviewQueue parks requests in the manual review queue.
type ReviewQueue struct {
	reviews *review.Service
}

func NewReviewQueue(reviews *review.Service) *ReviewQueue {
	return &ReviewQueue{reviews: reviews}
}

func (a *ReviewQueue) Enqueue(ctx context.Context, task ports.ReviewTask) error {
	_, err := a.reviews.Enqueue(ctx, review.EnqueueRequest{
		VerificationID: task.VerificationID,
		SubjectID:      task.SubjectID,
		CompositeScore: task.CompositeScore,
		Tier:           task.Tier,
		Reason:         task.Reason,
		HardFails:      task.HardFails,
		RequestedAt:    task.RequestedAt,
	})
	return err
}
