package handler

import (
	"strings"
	"unicode/utf8"

	"aegis/internal/review/models"
	dErrors "aegis/pkg/domain-errors"
)

const maxNotesLen = 4000

type DecisionRequest struct {
	Decision string `json:"decision"`
	Notes    string `json:"notes"`

	decision models.Decision
}

func (r *DecisionRequest) Validate() error {
	d, err := models.ParseDecision(strings.TrimSpace(r.Decision))
	if err != nil {
		return err
	}
	r.decision = d
	r.Notes = strings.TrimSpace(r.Notes)
	if utf8.RuneCountInString(r.Notes) > maxNotesLen {
		return dErrors.New(dErrors.CodeInvalidInput, "notes are too long")
	}
	return nil
}

type EscalateRequest struct {
	Reason string `json:"reason"`
}

func (r *EscalateRequest) Validate() error {
	r.Reason = strings.TrimSpace(r.Reason)
	if r.Reason == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "reason is required")
	}
	return nil
}
