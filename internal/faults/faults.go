// Package faults defines the error kinds surfaced by the engine and its
// stores. Each kind carries a stable code and a transport status hint so
// API layers can map errors without string matching.
package faults

import (
	"errors"
	"fmt"
)

// Code categorises an error.
type Code string

const (
	// CodeNotFound indicates a missing rule, fact, timer, or version.
	CodeNotFound Code = "NOT_FOUND"

	// CodeValidation indicates a malformed rule or request.
	CodeValidation Code = "VALIDATION"

	// CodeConflict indicates a duplicate rule id or concurrent version update.
	CodeConflict Code = "CONFLICT"

	// CodeBadRequest indicates an unknown operator or unparseable regex.
	CodeBadRequest Code = "BAD_REQUEST"

	// CodeUnavailable indicates a transient storage failure or shutdown in progress.
	CodeUnavailable Code = "SERVICE_UNAVAILABLE"

	// CodeInternal indicates an invariant violation. Always logged.
	CodeInternal Code = "INTERNAL"
)

// StatusHint returns the HTTP-ish status hint for a code.
func (c Code) StatusHint() int {
	switch c {
	case CodeNotFound:
		return 404
	case CodeValidation, CodeBadRequest:
		return 400
	case CodeConflict:
		return 409
	case CodeUnavailable:
		return 503
	default:
		return 500
	}
}

// Error is a categorised engine error.
type Error struct {
	Code    Code
	Message string
	Err     error // optional wrapped cause
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is / errors.As.
func (e *Error) Unwrap() error { return e.Err }

// New creates an Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error wrapping a cause.
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// NotFound creates a CodeNotFound error.
func NotFound(format string, args ...any) *Error {
	return New(CodeNotFound, format, args...)
}

// Validation creates a CodeValidation error.
func Validation(format string, args ...any) *Error {
	return New(CodeValidation, format, args...)
}

// Conflict creates a CodeConflict error.
func Conflict(format string, args ...any) *Error {
	return New(CodeConflict, format, args...)
}

// BadRequest creates a CodeBadRequest error.
func BadRequest(format string, args ...any) *Error {
	return New(CodeBadRequest, format, args...)
}

// Internal creates a CodeInternal error.
func Internal(format string, args ...any) *Error {
	return New(CodeInternal, format, args...)
}

// CodeOf returns the code of err if it is (or wraps) an *Error, or
// CodeInternal otherwise.
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code == code
	}
	return false
}
