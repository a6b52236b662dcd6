// Package errors provides coded domain errors. Services translate storage
// sentinel errors into these codes; the HTTP layer maps codes onto statuses.
package errors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error for callers and the transport layer.
type Code string

const (
	// CodeValidation marks malformed input: bad rule conditions, cyclic
	// inheritance edges, empty justifications. Rejected at write time.
	CodeValidation Code = "validation_error"

	// CodeContext marks a required evaluation-context field that is missing
	// for an operator that mandates presence. Recorded per rule, never
	// aborts an evaluation pass.
	CodeContext Code = "context_error"

	// CodeResolution marks an orchestrator-level failure (catalog
	// unavailable, inheritance cycle at resolution time). Aborts the run
	// with no partial materialization.
	CodeResolution Code = "resolution_error"

	// CodeConflict marks concurrent-modification collisions (snapshot
	// version races, tenant lock contention). Retryable by the caller.
	CodeConflict Code = "conflict"

	CodeNotFound     Code = "not_found"
	CodeUnauthorized Code = "unauthorized"
	CodeForbidden    Code = "forbidden"
	CodeBadRequest   Code = "bad_request"
	CodeTimeout      Code = "timeout"
	CodeInternal     Code = "internal_error"
)

// Error is a coded error with an operator-readable message.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code == code
	}
	return false
}

// CodeOf returns the code of err, or CodeInternal when it carries none.
func CodeOf(err error) Code {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return CodeInternal
}

// IsRetryable reports whether the caller may retry the operation that
// produced err. Only conflicts and timeouts qualify.
func IsRetryable(err error) bool {
	code := CodeOf(err)
	return code == CodeConflict || code == CodeTimeout
}
