// Package apperrors provides the error taxonomy used across the reducer and
// worker processes. Every error surfaced across a process boundary (an
// action reply, a projection rebuild, a log line) is classified into one of
// a small number of stable codes so callers can react without parsing
// strings.
package apperrors

import (
	"errors"
	"fmt"
)

// Code classifies an error into one of the buckets described by the error
// handling design: validation and business-rule errors are rejected before
// commit and returned to the caller; transient errors are logged and
// recovered from locally; projection errors force a rebuild; internal
// errors are logged at the highest severity and reported generically.
type Code string

const (
	// CodeValidation covers malformed input: bad flag format, bad profile
	// field, duplicate attachment filename, and similar rejections that
	// never reach SQL.
	CodeValidation Code = "VALIDATION"

	// CodeBusinessRule covers rule violations on otherwise well-formed
	// input: user not found, submission cooldown, wrong group, game not
	// available under the active policy.
	CodeBusinessRule Code = "BUSINESS_RULE"

	// CodeTransient covers socket timeouts and malformed wire packets. The
	// caller is not informed beyond a timeout; the worker resyncs, the
	// reducer continues.
	CodeTransient Code = "TRANSIENT"

	// CodeProjection covers an exception raised while applying an event to
	// the in-memory projection. The worker marks the game dirty and
	// rebuilds from SQL at the last known tick.
	CodeProjection Code = "PROJECTION"

	// CodeInternal covers everything else inside the reducer. Logged at
	// critical severity; the client receives a generic internal-error
	// message. The state counter invariant still holds.
	CodeInternal Code = "INTERNAL"
)

// Error is a coded application error. It wraps an optional underlying cause
// so %w-style unwrapping keeps working for callers that want the original
// error.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a bare coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Validation is shorthand for New(CodeValidation, ...).
func Validation(format string, args ...any) *Error {
	return New(CodeValidation, fmt.Sprintf(format, args...))
}

// BusinessRule is shorthand for New(CodeBusinessRule, ...).
func BusinessRule(format string, args ...any) *Error {
	return New(CodeBusinessRule, fmt.Sprintf(format, args...))
}

// Internal is shorthand for Wrap(CodeInternal, ...).
func Internal(message string, cause error) *Error {
	return Wrap(CodeInternal, message, cause)
}

// Projection is shorthand for Wrap(CodeProjection, ...).
func Projection(message string, cause error) *Error {
	return Wrap(CodeProjection, message, cause)
}

// CodeOf extracts the Code of err if it is (or wraps) an *Error, and
// CodeInternal otherwise — an unclassified error is treated as the most
// severe bucket rather than silently swallowed.
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// ClientMessage returns the string that is safe to return to a caller over
// the action-reply channel: validation/business-rule errors surface their
// message verbatim (they are meant to be shown to the player), everything
// else collapses to a generic message so internal detail never leaks across
// the wire.
func ClientMessage(err error) string {
	if err == nil {
		return ""
	}
	switch CodeOf(err) {
	case CodeValidation, CodeBusinessRule:
		var appErr *Error
		if errors.As(err, &appErr) {
			return appErr.Message
		}
		return err.Error()
	default:
		return "internal error"
	}
}
