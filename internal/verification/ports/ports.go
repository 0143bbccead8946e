package ports

import (
	"context"
	"time"

	"aegis/internal/risk"
	"aegis/internal/signals"
	id "aegis/pkg/domain"
)

// Assessor combines signals into an assessment. *risk.Engine implements it.
type Assessor interface {
	Assess(signals []risk.Signal) risk.Assessment
	Policy() risk.Policy
}

// SignalCollector gathers the ambient signals for a subject. Sources that
// time out or fail come back in Result.Absent, never as an error.
type SignalCollector interface {
	Collect(ctx context.Context, sc signals.SubjectContext) signals.Result
}

// Approval is what the credential issuer needs from an approved request.
type Approval struct {
	VerificationID id.VerificationID
	SubjectID      id.SubjectID
	Decision       string
	CompositeScore float64
	Tier           risk.Tier
	// Checks maps each check category to whether it passed.
	Checks     map[string]bool
	ApprovedAt time.Time
}

// CredentialIssuer mints a credential for an approval. Issue is idempotent
// per VerificationID.
type CredentialIssuer interface {
	IssueFor(ctx context.Context, approval Approval) (id.CredentialID, error)
}

// ReviewTask asks a human to decide a request parked in manual review.
type ReviewTask struct {
	VerificationID id.VerificationID
	SubjectID      id.SubjectID
	CompositeScore float64
	Tier           risk.Tier
	Reason         string
	HardFails      []string
	RequestedAt    time.Time
}

// ReviewQueue accepts manual review tasks. Enqueue is idempotent per
// VerificationID.
type ReviewQueue interface {
	Enqueue(ctx context.Context, task ReviewTask) error
}
