package handler

import (
	"time"

	"aegis/internal/review/models"
)

type TaskResponse struct {
	ID             string     `json:"id"`
	VerificationID string     `json:"verification_id"`
	SubjectID      string     `json:"subject_id"`
	Priority       string     `json:"priority"`
	Status         string     `json:"status"`
	Reason         string     `json:"reason"`
	CompositeScore float64    `json:"composite_score"`
	Tier           string     `json:"tier"`
	HardFails      []string   `json:"hard_fails,omitempty"`
	AssignedTo     string     `json:"assigned_to,omitempty"`
	Decision       string     `json:"decision,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	AssignedAt     *time.Time `json:"assigned_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

type TaskListResponse struct {
	Tasks []TaskResponse `json:"tasks"`
	Count int            `json:"count"`
}

// FromTask renders a task for reviewers. Notes are write-only here; they
// live in the compliance trail.
func FromTask(t *models.Task) TaskResponse {
	resp := TaskResponse{
		ID:             t.ID.String(),
		VerificationID: t.VerificationID.String(),
		SubjectID:      t.SubjectID.String(),
		Priority:       t.Priority.String(),
		Status:         string(t.Status),
		Reason:         t.Reason,
		CompositeScore: t.CompositeScore,
		Tier:           string(t.Tier),
		HardFails:      t.HardFails,
		Decision:       string(t.Decision),
		CreatedAt:      t.CreatedAt,
		AssignedAt:     t.AssignedAt,
		CompletedAt:    t.CompletedAt,
	}
	if !t.AssignedTo.IsNil() {
		resp.AssignedTo = t.AssignedTo.String()
	}
	return resp
}

func FromTasks(tasks []*models.Task) TaskListResponse {
	out := TaskListResponse{Tasks: make([]TaskResponse, 0, len(tasks)), Count: len(tasks)}
	for _, t := range tasks {
		out.Tasks = append(out.Tasks, FromTask(t))
	}
	return out
}
