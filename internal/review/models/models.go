package models

import (
	"time"

	"aegis/internal/risk"
	id "aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
)

// Priority orders the queue; lower values are served first.
type Priority int

const (
	PriorityUrgent Priority = 1
	PriorityHigh   Priority = 2
	PriorityMedium Priority = 3
	PriorityLow    Priority = 4
)

func (p Priority) IsValid() bool { return p >= PriorityUrgent && p <= PriorityLow }

func (p Priority) String() string {
	switch p {
	case PriorityUrgent:
		return "urgent"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	}
	return "unknown"
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusInReview  Status = "in_review"
	StatusCompleted Status = "completed"
)

type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

func ParseDecision(s string) (Decision, error) {
	switch d := Decision(s); d {
	case DecisionApproved, DecisionRejected:
		return d, nil
	}
	return "", dErrors.New(dErrors.CodeInvalidInput, "decision must be approved or rejected")
}

// Task is one request awaiting a human decision.
type Task struct {
	ID             id.ReviewID       `json:"id"`
	VerificationID id.VerificationID `json:"verification_id"`
	SubjectID      id.SubjectID      `json:"subject_id"`
	Priority       Priority          `json:"priority"`
	Status         Status            `json:"status"`
	Reason         string            `json:"reason"`
	CompositeScore float64           `json:"composite_score"`
	Tier           risk.Tier         `json:"tier"`
	HardFails      []string          `json:"hard_fails,omitempty"`
	AssignedTo     id.ReviewerID     `json:"assigned_to"`
	Decision       Decision          `json:"decision,omitempty"`
	Notes          string            `json:"notes,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	AssignedAt     *time.Time        `json:"assigned_at,omitempty"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
	EscalatedAt    *time.Time        `json:"escalated_at,omitempty"`

	// DecisionAudited is set once the decision reached the compliance trail.
	DecisionAudited bool  `json:"decision_audited,omitempty"`
	Version         int64 `json:"version"`
}

// Clone returns a deep copy.
func (t *Task) Clone() *Task {
	c := *t
	c.HardFails = append([]string(nil), t.HardFails...)
	return &c
}

// Less orders pending tasks: priority first, then oldest first.
func (t *Task) Less(o *Task) bool {
	if t.Priority != o.Priority {
		return t.Priority < o.Priority
	}
	if !t.CreatedAt.Equal(o.CreatedAt) {
		return t.CreatedAt.Before(o.CreatedAt)
	}
	return t.ID.String() < o.ID.String()
}

// PriorityFor ranks a new task: hard fails first, then high scores.
func PriorityFor(score float64, tier risk.Tier, hardFails []string) Priority {
	switch {
	case len(hardFails) > 0:
		return PriorityUrgent
	case score >= 80:
		return PriorityHigh
	case tier == risk.TierHigh:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// Assign hands a pending task to reviewer. Reassigning to the same reviewer
// is a no-op.
func (t *Task) Assign(reviewer id.ReviewerID, now time.Time) (bool, error) {
	switch {
	case t.Status == StatusInReview && t.AssignedTo == reviewer:
		return false, nil
	case t.Status != StatusPending:
		return false, dErrors.New(dErrors.CodePrecondition, "review task is not pending")
	}
	t.Status = StatusInReview
	t.AssignedTo = reviewer
	t.AssignedAt = &now
	return true, nil
}

// Complete records the assignee's decision. Only the assigned reviewer may
// complete a task.
func (t *Task) Complete(reviewer id.ReviewerID, decision Decision, notes string, now time.Time) error {
	if t.Status != StatusInReview {
		return dErrors.New(dErrors.CodePrecondition, "review task is not in review")
	}
	if t.AssignedTo != reviewer {
		return dErrors.New(dErrors.CodeForbidden, "review task is assigned to another reviewer")
	}
	t.Status = StatusCompleted
	t.Decision = decision
	t.Notes = notes
	t.CompletedAt = &now
	return nil
}

// MarkAudited records that the decision reached the compliance trail.
func (t *Task) MarkAudited() bool {
	if t.Status != StatusCompleted || t.DecisionAudited {
		return false
	}
	t.DecisionAudited = true
	return true
}

// Escalate raises an open task to urgent.
func (t *Task) Escalate(now time.Time) (bool, error) {
	if t.Status == StatusCompleted {
		return false, dErrors.New(dErrors.CodePrecondition, "review task already completed")
	}
	if t.Priority == PriorityUrgent {
		return false, nil
	}
	t.Priority = PriorityUrgent
	t.EscalatedAt = &now
	return true, nil
}

// Stats summarises the queue.
type Stats struct {
	Pending      int     `json:"pending"`
	InReview     int     `json:"in_review"`
	Completed    int     `json:"completed"`
	Approved     int     `json:"approved"`
	Rejected     int     `json:"rejected"`
	ApprovalRate float64 `json:"approval_rate"`
}

// Tally builds Stats from tasks.
func Tally(tasks []*Task) Stats {
	var st Stats
	for _, t := range tasks {
		switch t.Status {
		case StatusPending:
			st.Pending++
		case StatusInReview:
			st.InReview++
		case StatusCompleted:
			st.Completed++
			if t.Decision == DecisionApproved {
				st.Approved++
			} else {
				st.Rejected++
			}
		}
	}
	if st.Completed > 0 {
		st.ApprovalRate = float64(st.Approved) / float64(st.Completed)
	}
	return st
}
