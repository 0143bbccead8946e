package models

import (
	"slices"
	"time"

	id "aegis/pkg/domain"
)

// Capability is the caller's authorization to read vault fields. It is
// issued by the layer that authenticated the caller: the subject reading
// their own data, a verifier holding consent, or the verification flow.
type Capability struct {
	// Actor is recorded in audit events.
	Actor     string
	Subject   id.SubjectID
	Fields    []FieldName
	Purpose   string
	ExpiresAt time.Time
}

// SelfCapability lets a subject read every field of their own record.
func SelfCapability(subject id.SubjectID) Capability {
	return Capability{Actor: "subject:" + subject.String(), Subject: subject, Fields: AllFields(), Purpose: "self_access"}
}

// Permits reports whether c allows reading field of subject at now.
func (c Capability) Permits(subject id.SubjectID, field FieldName, now time.Time) bool {
	if c.Subject.IsNil() || c.Subject != subject {
		return false
	}
	if !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt) {
		return false
	}
	return slices.Contains(c.Fields, field)
}
