package models

import (
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	dErrors "aegis/pkg/domain-errors"
)

// FieldName is one of the fixed PII fields a vault record can hold.
type FieldName string

const (
	FieldFullName            FieldName = "full_name"
	FieldDateOfBirth         FieldName = "date_of_birth"
	FieldNationalID          FieldName = "national_id"
	FieldPassportNumber      FieldName = "passport_number"
	FieldDriverLicenseNumber FieldName = "driver_license_number"
	FieldPhone               FieldName = "phone"
	FieldAddress             FieldName = "address"
	FieldFatherName          FieldName = "father_name"
	FieldMotherName          FieldName = "mother_name"
	FieldBankAccountNumber   FieldName = "bank_account_number"
	FieldTaxID               FieldName = "tax_id"
)

// FieldKind selects validation and normalization for a field.
type FieldKind int

const (
	KindText FieldKind = iota + 1
	KindDate
	KindDocumentNumber
	KindPhone
)

func (k FieldKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindDate:
		return "date"
	case KindDocumentNumber:
		return "document_number"
	case KindPhone:
		return "phone"
	}
	return "unknown"
}

var fieldKinds = map[FieldName]FieldKind{
	FieldFullName:            KindText,
	FieldDateOfBirth:         KindDate,
	FieldNationalID:          KindDocumentNumber,
	FieldPassportNumber:      KindDocumentNumber,
	FieldDriverLicenseNumber: KindDocumentNumber,
	FieldPhone:               KindPhone,
	FieldAddress:             KindText,
	FieldFatherName:          KindText,
	FieldMotherName:          KindText,
	FieldBankAccountNumber:   KindDocumentNumber,
	FieldTaxID:               KindDocumentNumber,
}

// AllFields lists every field in a stable order.
func AllFields() []FieldName {
	return []FieldName{
		FieldFullName, FieldDateOfBirth, FieldNationalID, FieldPassportNumber,
		FieldDriverLicenseNumber, FieldPhone, FieldAddress, FieldFatherName,
		FieldMotherName, FieldBankAccountNumber, FieldTaxID,
	}
}

// ParseFieldName rejects anything outside the fixed set.
func ParseFieldName(s string) (FieldName, error) {
	f := FieldName(s)
	if !f.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown vault field")
	}
	return f, nil
}

func (f FieldName) IsValid() bool {
	_, ok := fieldKinds[f]
	return ok
}

func (f FieldName) Kind() FieldKind { return fieldKinds[f] }

func (f FieldName) String() string { return string(f) }

// FieldValue is a validated, normalized PII value tagged with its kind.
// Only the vault constructs one; the zero value is invalid.
type FieldValue struct {
	kind FieldKind
	text string
	date time.Time
}

const (
	maxTextLen    = 512
	dateLayout    = "2006-01-02"
	earliestBirth = 1900
)

var (
	documentNumberRE = regexp.MustCompile(`^[A-Z0-9][A-Z0-9-]{2,33}[A-Z0-9]$`)
	phoneRE          = regexp.MustCompile(`^\+[1-9][0-9]{7,14}$`)
)

// ParseFieldValue validates raw for field and returns its normalized form.
// Error messages never echo the input.
func ParseFieldValue(field FieldName, raw string) (FieldValue, error) {
	if !field.IsValid() {
		return FieldValue{}, dErrors.New(dErrors.CodeInvalidInput, "unknown vault field")
	}
	if !utf8.ValidString(raw) {
		return FieldValue{}, invalid(field, "must be valid UTF-8")
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return FieldValue{}, invalid(field, "must not be empty")
	}

	switch field.Kind() {
	case KindText:
		if utf8.RuneCountInString(raw) > maxTextLen {
			return FieldValue{}, invalid(field, "is too long")
		}
		for _, r := range raw {
			if unicode.IsControl(r) {
				return FieldValue{}, invalid(field, "contains control characters")
			}
		}
		return FieldValue{kind: KindText, text: strings.Join(strings.Fields(raw), " ")}, nil

	case KindDate:
		d, err := time.Parse(dateLayout, raw)
		if err != nil {
			return FieldValue{}, invalid(field, "must be YYYY-MM-DD")
		}
		if d.Year() < earliestBirth {
			return FieldValue{}, invalid(field, "is out of range")
		}
		return FieldValue{kind: KindDate, date: d}, nil

	case KindDocumentNumber:
		norm := strings.ToUpper(strings.ReplaceAll(raw, " ", ""))
		if !documentNumberRE.MatchString(norm) {
			return FieldValue{}, invalid(field, "has an invalid format")
		}
		return FieldValue{kind: KindDocumentNumber, text: norm}, nil

	case KindPhone:
		norm := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(raw)
		if !phoneRE.MatchString(norm) {
			return FieldValue{}, invalid(field, "must be in E.164 format")
		}
		return FieldValue{kind: KindPhone, text: norm}, nil
	}
	return FieldValue{}, invalid(field, "has no validator")
}

func invalid(field FieldName, reason string) error {
	return dErrors.New(dErrors.CodeInvalidInput, string(field)+" "+reason)
}

func (v FieldValue) Kind() FieldKind { return v.kind }

// Date returns the parsed date for KindDate values.
func (v FieldValue) Date() (time.Time, bool) {
	return v.date, v.kind == KindDate
}

// String is the canonical plaintext form that gets encrypted.
func (v FieldValue) String() string {
	if v.kind == KindDate {
		return v.date.Format(dateLayout)
	}
	return v.text
}
