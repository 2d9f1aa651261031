// Package errors provides structured error handling with typed error codes.
//
// Error codes are organized into categories:
//   - General errors (1-99): Unknown and general errors
//   - Validation errors (100-199): Invalid parameters, configuration and run preconditions
//   - Dataset errors (200-299): Reading or writing the series, malformed records
//   - Source errors (300-399): Exchange API unavailable or throttling
//   - Publish errors (400-499): Dataset hosting download and upload failures
//
// Usage:
//
//	// Create a new error
//	err := errors.New(errors.ErrCodeInvalidState, "series is empty")
//
//	// Wrap an existing error
//	err := errors.Wrap(errors.ErrCodeSourceUnavailable, "failed to fetch page", originalErr)
//
//	// Check error code
//	if errors.HasCode(err, errors.ErrCodeRateLimited) { ... }
package errors

import (
	"errors"
	"fmt"
)

// Error represents a structured error with an error code and message.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   nil,
	}
}

// Newf creates a new Error with the given code and formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   nil,
	}
}

// Wrap wraps an existing error with a new Error containing the given code and message.
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Wrapf wraps an existing error with a new Error containing the given code and formatted message.
func Wrapf(code ErrorCode, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Cause)
	}

	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// GetCode extracts the ErrorCode from an error.
// The outermost coded error in the chain wins. A MalformedRecordError reports ErrCodeMalformedRecord.
// Returns ErrCodeUnknown if the chain carries no code.
func GetCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	var malformed *MalformedRecordError
	if errors.As(err, &malformed) {
		return ErrCodeMalformedRecord
	}

	return ErrCodeUnknown
}

// HasCode checks if an error has a specific ErrorCode.
func HasCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// IsFatal reports whether err must abort a pipeline run.
// Only malformed records are tolerated; everything else stops the run before publish.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	return !IsMalformedRecordError(err)
}

// MalformedRecordError describes a single record that could not be normalized.
// It is skipped and logged, never fatal.
type MalformedRecordError struct {
	Timestamp int64  // Key of the offending record, 0 if the key itself was unreadable
	Field     string // Name of the field that failed
	Value     string // Raw value as received
	Cause     error
}

// NewMalformedRecordError creates a new MalformedRecordError.
func NewMalformedRecordError(timestamp int64, field, value string, cause error) *MalformedRecordError {
	return &MalformedRecordError{
		Timestamp: timestamp,
		Field:     field,
		Value:     value,
		Cause:     cause,
	}
}

// Error implements the error interface.
func (e *MalformedRecordError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("malformed record at %d: field %s=%q: %v", e.Timestamp, e.Field, e.Value, e.Cause)
	}

	return fmt.Sprintf("malformed record at %d: field %s=%q", e.Timestamp, e.Field, e.Value)
}

// Unwrap returns the underlying parse error.
func (e *MalformedRecordError) Unwrap() error {
	return e.Cause
}

// IsMalformedRecordError checks if an error is a MalformedRecordError.
func IsMalformedRecordError(err error) bool {
	var malformed *MalformedRecordError

	return errors.As(err, &malformed)
}
