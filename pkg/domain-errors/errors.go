// Package domainerrors carries coded errors across service boundaries.
//
// Stores return sentinel errors (pkg/platform/sentinel). Services translate
// them into coded errors here so transport layers can map codes to responses
// without inspecting internals.
package domainerrors

import (
	"errors"
)

// Code classifies a domain error.
type Code string

const (
	CodeBadRequest         Code = "bad_request"
	CodeInvalidInput       Code = "invalid_input"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodePrecondition       Code = "precondition_failed"
	CodeIntegrity          Code = "integrity_violation"
	CodeInvariantViolation Code = "invariant_violation"
	CodeTimeout            Code = "timeout"
	CodeUnavailable        Code = "unavailable"
	CodeInternal           Code = "internal_error"
)

// PublicStepFailure is the only message a subject sees when a verification
// step fails for a reason they cannot fix themselves.
const PublicStepFailure = "verification step failed, please retry"

// Error is a coded error with an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a coded error.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a code and message to err. A nil err yields nil.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// HasCode reports whether any coded error in err's chain carries code.
func HasCode(err error, code Code) bool {
	for err != nil {
		var de *Error
		if !errors.As(err, &de) {
			return false
		}
		if de.Code == code {
			return true
		}
		err = de.Err
	}
	return false
}

// CodeOf returns the outermost code in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// IsFatal reports whether err must terminate the current operation without
// retry and be shown to the subject only as PublicStepFailure.
func IsFatal(err error) bool {
	switch CodeOf(err) {
	case CodeIntegrity, CodeInternal, CodeInvariantViolation, CodeUnavailable, CodeTimeout:
		return true
	}
	return false
}

// PublicMessage renders err for an end user. Fatal errors never leak detail.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	if IsFatal(err) {
		return PublicStepFailure
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return PublicStepFailure
}
