package handler

import (
	"strings"

	"aegis/internal/risk"
	"aegis/internal/verification/models"
	"aegis/internal/verification/service"
	id "aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
)

const (
	maxSignalsPerStep = 8
	maxDetailEntries  = 32
)

type InitiateRequest struct {
	SubjectID string `json:"subject_id"`

	subjectID id.SubjectID
}

func (r *InitiateRequest) Validate() error {
	subjectID, err := id.ParseSubjectID(strings.TrimSpace(r.SubjectID))
	if err != nil {
		return dErrors.New(dErrors.CodeInvalidInput, "subject_id must be a UUID")
	}
	r.subjectID = subjectID
	return nil
}

type SignalInput struct {
	Source     string             `json:"source"`
	Score      float64            `json:"score"`
	Confidence float64            `json:"confidence"`
	Indicators map[string]float64 `json:"indicators,omitempty"`
}

// StepRequest is a check provider's result for one step. Range checks on
// scores happen in the service and the risk engine.
type StepRequest struct {
	Step     string            `json:"step"`
	Outcome  string            `json:"outcome"`
	SubScore float64           `json:"sub_score"`
	Signals  []SignalInput     `json:"signals,omitempty"`
	Details  map[string]string `json:"details,omitempty"`

	step models.StepID
}

func (r *StepRequest) Validate() error {
	step, err := models.ParseStepID(strings.TrimSpace(r.Step))
	if err != nil {
		return err
	}
	r.step = step
	if len(r.Signals) > maxSignalsPerStep {
		return dErrors.New(dErrors.CodeInvalidInput, "too many signals")
	}
	if len(r.Details) > maxDetailEntries {
		return dErrors.New(dErrors.CodeInvalidInput, "too many details")
	}
	return nil
}

func (r *StepRequest) Report() service.StepReport {
	report := service.StepReport{
		Step:     r.step,
		Outcome:  models.CheckOutcome(strings.TrimSpace(r.Outcome)),
		SubScore: r.SubScore,
		Details:  r.Details,
	}
	for _, s := range r.Signals {
		report.Signals = append(report.Signals, risk.Signal{
			Source:     risk.Source(s.Source),
			Score:      s.Score,
			Confidence: s.Confidence,
			Indicators: s.Indicators,
		})
	}
	return report
}
