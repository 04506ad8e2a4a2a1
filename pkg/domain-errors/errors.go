// Package domainerrors defines the coded errors that cross service boundaries.
//
// Stores and infrastructure return sentinel errors (pkg/platform/sentinel); services
// translate those into a *Error carrying a Code so callers can branch on the kind of
// failure without string matching:
//
//	if dErrors.HasCode(err, dErrors.CodeNotFound) { ... }
package domainerrors

import (
	"errors"
)

// Code classifies a domain error.
type Code string

const (
	// CodeInvalidInput marks malformed input such as a non-integer request id.
	CodeInvalidInput Code = "invalid_input"
	// CodeValidation marks well-formed input that fails field rules.
	CodeValidation Code = "validation_error"
	// CodeNotFound marks a row that is absent or belongs to another user.
	CodeNotFound Code = "not_found"
	// CodeConflict marks a duplicate in-flight submission.
	CodeConflict Code = "conflict"
	// CodeBackend wraps a gateway failure; the message is passed through verbatim.
	CodeBackend Code = "backend_error"
	// CodePartialFailure marks a best-effort multi-step write where some steps failed.
	CodePartialFailure Code = "partial_failure"
	// CodeInvalidState marks an operation that is not allowed in the entity's current state.
	CodeInvalidState Code = "invalid_state"
	CodeForbidden    Code = "forbidden"
	CodeInternal     Code = "internal_error"
)

// Error is a domain error with a classification code.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message != e.Err.Error() {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a domain error without a cause.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a code and message to an underlying error.
// Wrap returns nil when err is nil.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// Backend wraps a gateway failure keeping the backend message as the error text.
func Backend(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: CodeBackend, Message: err.Error(), Err: err}
}

// CodeOf returns the code of the outermost domain error in err's chain.
func CodeOf(err error) (Code, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Code, true
	}
	return "", false
}

// HasCode reports whether any domain error in err's chain carries code.
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
