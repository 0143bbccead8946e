package models

import (
	"time"

	"aegis/internal/vault/cipher"
	id "aegis/pkg/domain"
)

// Record is one subject's vault entry. Fields hold ciphertext only; Email is
// kept in clear because it is the lookup key.
type Record struct {
	SubjectID    id.SubjectID
	Email        string
	KeyVersion   int
	Fields       map[FieldName]cipher.EncryptedField
	Version      int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
	AnonymizedAt *time.Time
}

// NewRecord starts an empty record at version 0; the first save makes it 1.
func NewRecord(subjectID id.SubjectID, keyVersion int, now time.Time) *Record {
	return &Record{
		SubjectID:  subjectID,
		KeyVersion: keyVersion,
		Fields:     make(map[FieldName]cipher.EncryptedField),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (r *Record) IsAnonymized() bool { return r.AnonymizedAt != nil }

// Clone deep-copies the record so stores never share maps with callers.
func (r *Record) Clone() *Record {
	c := *r
	c.Fields = make(map[FieldName]cipher.EncryptedField, len(r.Fields))
	for k, v := range r.Fields {
		c.Fields[k] = cipher.EncryptedField{
			Ciphertext: append([]byte(nil), v.Ciphertext...),
			Nonce:      append([]byte(nil), v.Nonce...),
			Algorithm:  v.Algorithm,
		}
	}
	if r.AnonymizedAt != nil {
		t := *r.AnonymizedAt
		c.AnonymizedAt = &t
	}
	return &c
}

// FieldNames returns stored field names in canonical order.
func (r *Record) FieldNames() []FieldName {
	var out []FieldName
	for _, f := range AllFields() {
		if _, ok := r.Fields[f]; ok {
			out = append(out, f)
		}
	}
	return out
}
