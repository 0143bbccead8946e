package handler

import (
	"time"

	"aegis/internal/verification/models"
)

// RequestResponse is what a subject sees of a request. Scores, signals and
// decision reasons stay internal.
type RequestResponse struct {
	ID             string    `json:"id"`
	State          string    `json:"state"`
	RequiredSteps  []string  `json:"required_steps"`
	CompletedSteps []string  `json:"completed_steps"`
	PendingSteps   []string  `json:"pending_steps"`
	Decision       string    `json:"decision"`
	PriorRequestID string    `json:"prior_request_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	// AccessToken is returned only when a request is created.
	AccessToken string `json:"access_token,omitempty"`
}

func FromRequest(r *models.Request) RequestResponse {
	resp := RequestResponse{
		ID:             r.ID.String(),
		State:          string(r.State),
		RequiredSteps:  make([]string, 0, len(r.RequiredSteps)),
		CompletedSteps: []string{},
		PendingSteps:   []string{},
		Decision:       string(r.Decision),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	for _, step := range r.RequiredSteps {
		resp.RequiredSteps = append(resp.RequiredSteps, string(step))
		if r.IsCompleted(step) {
			resp.CompletedSteps = append(resp.CompletedSteps, string(step))
		} else {
			resp.PendingSteps = append(resp.PendingSteps, string(step))
		}
	}
	if !r.PriorRequestID.IsNil() {
		resp.PriorRequestID = r.PriorRequestID.String()
	}
	return resp
}
