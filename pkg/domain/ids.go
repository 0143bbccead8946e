package domain

import (
	"github.com/google/uuid"

	dErrors "aegis/pkg/domain-errors"
)

// Typed identifiers keep subjects, requests and credentials from being
// swapped at compile time. All of them are UUIDs on the wire.
type (
	SubjectID      uuid.UUID
	VerificationID uuid.UUID
	CredentialID   uuid.UUID
	ReviewID       uuid.UUID
	ReviewerID     uuid.UUID
	AssessmentID   uuid.UUID
)

func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" must not be nil")
	}
	return u, nil
}

func ParseSubjectID(s string) (SubjectID, error) {
	u, err := parseUUID(s, "subject id")
	return SubjectID(u), err
}

func ParseVerificationID(s string) (VerificationID, error) {
	u, err := parseUUID(s, "verification id")
	return VerificationID(u), err
}

func ParseCredentialID(s string) (CredentialID, error) {
	u, err := parseUUID(s, "credential id")
	return CredentialID(u), err
}

func ParseReviewID(s string) (ReviewID, error) {
	u, err := parseUUID(s, "review id")
	return ReviewID(u), err
}

func ParseReviewerID(s string) (ReviewerID, error) {
	u, err := parseUUID(s, "reviewer id")
	return ReviewerID(u), err
}

func ParseAssessmentID(s string) (AssessmentID, error) {
	u, err := parseUUID(s, "assessment id")
	return AssessmentID(u), err
}

func (id SubjectID) String() string      { return uuid.UUID(id).String() }
func (id VerificationID) String() string { return uuid.UUID(id).String() }
func (id CredentialID) String() string   { return uuid.UUID(id).String() }
func (id ReviewID) String() string       { return uuid.UUID(id).String() }
func (id ReviewerID) String() string     { return uuid.UUID(id).String() }
func (id AssessmentID) String() string   { return uuid.UUID(id).String() }

func (id SubjectID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id VerificationID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id CredentialID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id ReviewID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id ReviewerID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id AssessmentID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }

// Text marshalling lets IDs live inside JSON documents and map keys. Nil IDs
// round-trip so optional references stay representable.

func (id SubjectID) MarshalText() ([]byte, error)      { return uuid.UUID(id).MarshalText() }
func (id VerificationID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id CredentialID) MarshalText() ([]byte, error)   { return uuid.UUID(id).MarshalText() }
func (id ReviewID) MarshalText() ([]byte, error)       { return uuid.UUID(id).MarshalText() }
func (id ReviewerID) MarshalText() ([]byte, error)     { return uuid.UUID(id).MarshalText() }
func (id AssessmentID) MarshalText() ([]byte, error)   { return uuid.UUID(id).MarshalText() }

func (id *SubjectID) UnmarshalText(b []byte) error      { return unmarshalUUID(b, (*uuid.UUID)(id)) }
func (id *VerificationID) UnmarshalText(b []byte) error { return unmarshalUUID(b, (*uuid.UUID)(id)) }
func (id *CredentialID) UnmarshalText(b []byte) error   { return unmarshalUUID(b, (*uuid.UUID)(id)) }
func (id *ReviewID) UnmarshalText(b []byte) error       { return unmarshalUUID(b, (*uuid.UUID)(id)) }
func (id *ReviewerID) UnmarshalText(b []byte) error     { return unmarshalUUID(b, (*uuid.UUID)(id)) }
func (id *AssessmentID) UnmarshalText(b []byte) error   { return unmarshalUUID(b, (*uuid.UUID)(id)) }

func unmarshalUUID(b []byte, dst *uuid.UUID) error {
	if len(b) == 0 {
		*dst = uuid.Nil
		return nil
	}
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid identifier")
	}
	*dst = u
	return nil
}
