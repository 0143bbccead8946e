package handler

import (
	"strings"

	"aegis/internal/vault/models"
	dErrors "aegis/pkg/domain-errors"
)

type StoreFieldRequest struct {
	Value string `json:"value"`
}

func (r *StoreFieldRequest) Validate() error {
	if strings.TrimSpace(r.Value) == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "value is required")
	}
	return nil
}

type ReadFieldsRequest struct {
	Fields  []string `json:"fields"`
	Purpose string   `json:"purpose"`

	fields []models.FieldName
}

func (r *ReadFieldsRequest) Validate() error {
	r.Purpose = strings.TrimSpace(r.Purpose)
	if r.Purpose == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "purpose is required")
	}
	if len(r.Fields) == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "at least one field is required")
	}
	r.fields = make([]models.FieldName, 0, len(r.Fields))
	for _, f := range r.Fields {
		name, err := models.ParseFieldName(f)
		if err != nil {
			return err
		}
		r.fields = append(r.fields, name)
	}
	return nil
}

type EmailRequest struct {
	Email string `json:"email"`
}

func (r *EmailRequest) Validate() error {
	r.Email = strings.TrimSpace(r.Email)
	if r.Email == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "email is required")
	}
	return nil
}

type AnonymizeRequest struct {
	Reason string `json:"reason"`
}

func (r *AnonymizeRequest) Validate() error {
	r.Reason = strings.TrimSpace(r.Reason)
	if r.Reason == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "reason is required")
	}
	return nil
}
