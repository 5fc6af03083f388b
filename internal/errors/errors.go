// Package errors provides the error taxonomy of the sync engine.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode identifies a class of failure surfaced to diagnostics and UI.
type ErrorCode string

const (
	// General errors
	ErrInternal ErrorCode = "INTERNAL_ERROR"
	ErrInvalid  ErrorCode = "INVALID_INPUT"
	ErrNotFound ErrorCode = "NOT_FOUND"
	ErrConfig   ErrorCode = "CONFIG_ERROR"

	// Storage errors
	ErrDatabase          ErrorCode = "DATABASE_ERROR"
	ErrDurabilityWarning ErrorCode = "DURABILITY_WARNING"
	ErrCorruptState      ErrorCode = "CORRUPT_STATE"

	// Upload errors
	ErrTransientUpload ErrorCode = "TRANSIENT_UPLOAD_FAILURE"
	ErrPermanentUpload ErrorCode = "PERMANENT_UPLOAD_FAILURE"
	ErrConflict        ErrorCode = "CONFLICT_DETECTED"
	ErrUploadTimeout   ErrorCode = "UPLOAD_TIMEOUT"

	// Scheduling and resolution errors
	ErrCycleInProgress         ErrorCode = "CYCLE_IN_PROGRESS"
	ErrNotFoundOrNotConflicted ErrorCode = "NOT_FOUND_OR_NOT_CONFLICTED"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is reports whether any error in err's chain is an AppError with code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// CodeOf returns the code of the first AppError in err's chain, or
// ErrInternal when there is none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}
