package models

import (
	"crypto/sha256"
	"fmt"
	"strconv"
	"strings"
	"time"

	"aegis/internal/risk"
	id "aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
)

// SchemaV1 identifies the summary layout below. Changing key order or
// value encoding requires a new schema.
const SchemaV1 = "aegis.kyc.summary.v1"

// CheckCategories is the fixed order of check flags in the summary.
var CheckCategories = []string{
	"geolocation",
	"identity_data",
	"address",
	"document",
	"biometric",
	"video",
	"behavior",
	"aml",
}

// Field is one canonical key/value pair.
type Field struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Summary is the signed statement about an approved verification.
type Summary struct {
	Schema                string            `json:"schema"`
	CredentialID          id.CredentialID   `json:"credential_id"`
	SubjectID             id.SubjectID      `json:"subject_id"`
	VerificationRequestID id.VerificationID `json:"verification_request_id"`
	CompositeRiskScore    float64           `json:"composite_risk_score"`
	RiskTier              risk.Tier         `json:"risk_tier"`
	Checks                map[string]bool   `json:"checks"`
	IssuedAt              time.Time         `json:"issued_at"`
	ExpiryAt              time.Time         `json:"expiry_at"`
}

// Fields renders the summary as its canonical ordered key/value list.
// Missing check categories are false.
func (s Summary) Fields() []Field {
	fields := []Field{
		{"schema", s.Schema},
		{"credential_id", s.CredentialID.String()},
		{"subject_id", s.SubjectID.String()},
		{"verification_request_id", s.VerificationRequestID.String()},
		{"composite_risk_score", strconv.FormatFloat(s.CompositeRiskScore, 'f', 2, 64)},
		{"risk_tier", string(s.RiskTier)},
	}
	for _, c := range CheckCategories {
		fields = append(fields, Field{"check_" + c, strconv.FormatBool(s.Checks[c])})
	}
	return append(fields,
		Field{"issued_at", formatTime(s.IssuedAt)},
		Field{"expiry_at", formatTime(s.ExpiryAt)},
	)
}

// Canonical is the exact byte sequence that is hashed and signed: one
// key=value line per field, each terminated by \n.
func (s Summary) Canonical() []byte {
	return Canonicalize(s.Fields())
}

// Digest is SHA-256 over Canonical.
func (s Summary) Digest() [sha256.Size]byte {
	return sha256.Sum256(s.Canonical())
}

// Canonicalize serializes fields without reordering them.
func Canonicalize(fields []Field) []byte {
	var b strings.Builder
	for _, f := range fields {
		b.WriteString(f.Key)
		b.WriteByte('=')
		b.WriteString(f.Value)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// ValidateFields checks that fields follow the v1 layout exactly: same
// keys, same order, no value able to forge a line break.
func ValidateFields(fields []Field) error {
	want := Summary{}.Fields()
	if len(fields) != len(want) {
		return dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("summary must have %d fields", len(want)))
	}
	for i, f := range fields {
		if f.Key != want[i].Key {
			return dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("summary field %d must be %q", i, want[i].Key))
		}
		if strings.ContainsAny(f.Value, "\n\r") {
			return dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("summary field %q contains a line break", f.Key))
		}
	}
	if fields[0].Value != SchemaV1 {
		return dErrors.New(dErrors.CodeInvalidInput, "unsupported summary schema")
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}
