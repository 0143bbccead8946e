package handler

import (
	"strings"

	"aegis/internal/credential/models"
	dErrors "aegis/pkg/domain-errors"
)

// VerifyDocumentRequest is a credential document presented by a third
// party that holds only the public key.
type VerifyDocumentRequest struct {
	models.Document
}

func (r *VerifyDocumentRequest) Validate() error {
	if r.CredentialID == "" || len(r.Signature) == 0 || len(r.SummaryFields) == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "credential_id, signature and summary_fields are required")
	}
	return nil
}

type RevokeRequest struct {
	Reason string `json:"reason"`
}

func (r *RevokeRequest) Validate() error {
	r.Reason = strings.TrimSpace(r.Reason)
	if r.Reason == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "reason is required")
	}
	return nil
}
