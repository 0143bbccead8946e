package handler

import (
	"aegis/internal/vault/models"
	id "aegis/pkg/domain"
)

type FieldsResponse struct {
	SubjectID string            `json:"subject_id"`
	Fields    map[string]string `json:"fields"`
}

func FromValues(subjectID id.SubjectID, values map[models.FieldName]string) FieldsResponse {
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k.String()] = v
	}
	return FieldsResponse{SubjectID: subjectID.String(), Fields: out}
}

type LookupResponse struct {
	SubjectID string `json:"subject_id"`
}
