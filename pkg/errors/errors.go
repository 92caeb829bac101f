// Package errors provides structured error types for piprecipes.
//
// Every failure that can end up in the run report carries a [Code], so the
// report and the CLI exit status can be derived without string matching.
//
// # Error Codes
//
// Per-line and per-package codes never abort a run:
//   - MALFORMED_REQUIREMENT: a requirements line that does not parse
//   - PACKAGE_NOT_FOUND: the index has no release satisfying the constraint
//   - METADATA_INCOMPLETE: the selected release has no sdist or no sha256 digest
//   - TRANSIENT_FETCH: network failure that outlived the retry budget
//   - VERSION_CONFLICT: incompatible constraints on one package (a warning)
//   - CHECKSUM_MISMATCH: a downloaded archive does not match the index digest
//   - LIMIT_EXCEEDED: the closure grew past the configured package limit
//
// Only FILE_NOT_FOUND (the requirements file itself) and INVALID_CONFIG are fatal.
//
// # Usage
//
//	err := errors.New(errors.ErrCodePackageNotFound, "no release of %s matches %s", name, spec)
//	if errors.Is(err, errors.ErrCodePackageNotFound) {
//	    // record and skip
//	}
//
//	err := errors.Wrap(errors.ErrCodeTransientFetch, origErr, "fetch %s", name)
package errors

import (
	"errors"
	"fmt"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for different error categories.
const (
	// Input errors
	ErrCodeMalformedRequirement Code = "MALFORMED_REQUIREMENT"
	ErrCodeInvalidInput         Code = "INVALID_INPUT"
	ErrCodeInvalidPackage       Code = "INVALID_PACKAGE"
	ErrCodeInvalidPath          Code = "INVALID_PATH"
	ErrCodeInvalidConfig        Code = "INVALID_CONFIG"
	ErrCodeFileNotFound         Code = "FILE_NOT_FOUND"

	// Per-package resolution errors
	ErrCodePackageNotFound    Code = "PACKAGE_NOT_FOUND"
	ErrCodeMetadataIncomplete Code = "METADATA_INCOMPLETE"
	ErrCodeTransientFetch     Code = "TRANSIENT_FETCH"
	ErrCodeVersionConflict    Code = "VERSION_CONFLICT"
	ErrCodeChecksumMismatch   Code = "CHECKSUM_MISMATCH"
	ErrCodeLimitExceeded      Code = "LIMIT_EXCEEDED"

	// Internal errors
	ErrCodeInternal Code = "INTERNAL_ERROR"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Line    int    // 1-based input line, 0 when not tied to a line
	Cause   error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Line > 0 {
		msg = fmt.Sprintf("line %d: %s", e.Line, msg)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// AtLine creates an Error tied to a 1-based input line number.
func AtLine(code Code, line int, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Line:    line,
	}
}

// Is reports whether err has the given error code.
// It unwraps the error chain looking for an *Error with a matching code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error, if available.
// Returns empty string if the error is not an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// GetLine extracts the input line number from an error, or 0.
func GetLine(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Line
	}
	return 0
}

// UserMessage returns a user-friendly message for the error.
// For *Error types, returns the message without the code prefix.
// For other errors, returns the error string as-is.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %v", e.Message, e.Cause)
		}
		return e.Message
	}
	return err.Error()
}
