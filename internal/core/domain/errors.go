package domain

import (
	"errors"
	"fmt"
)

// ErrorCode classifies record synchronization failures.
type ErrorCode string

const (
	CodeNotInitialized   ErrorCode = "NOT_INITIALIZED"
	CodeNotAuthenticated ErrorCode = "NOT_AUTHENTICATED"
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	CodeUnavailable      ErrorCode = "UNAVAILABLE"
	CodeValidation       ErrorCode = "VALIDATION_ERROR"
	CodeUnknown          ErrorCode = "UNKNOWN"
)

// SyncError is the classified error every record sync entry point resolves to.
type SyncError struct {
	Code    ErrorCode         `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	cause   error
}

// Sentinels for errors.Is; matching compares codes only.
var (
	ErrNotInitialized   = &SyncError{Code: CodeNotInitialized, Message: "document store is not initialized"}
	ErrNotAuthenticated = &SyncError{Code: CodeNotAuthenticated, Message: "user not authenticated"}
	ErrNotFound         = &SyncError{Code: CodeNotFound, Message: "journal entry not found"}
	ErrPermissionDenied = &SyncError{Code: CodePermissionDenied, Message: "permission denied"}
	ErrUnavailable      = &SyncError{Code: CodeUnavailable, Message: "document store is unavailable"}
	ErrValidation       = &SyncError{Code: CodeValidation, Message: "validation failed"}
	ErrUnknown          = &SyncError{Code: CodeUnknown, Message: "unknown error"}
)

func (e *SyncError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *SyncError) Unwrap() error {
	return e.cause
}

func (e *SyncError) Is(target error) bool {
	t, ok := target.(*SyncError)
	return ok && t.Code == e.Code
}

// NewSyncError creates a SyncError without an underlying cause.
func NewSyncError(code ErrorCode, message string) *SyncError {
	return &SyncError{Code: code, Message: message}
}

// WrapSyncError creates a SyncError carrying cause.
func WrapSyncError(code ErrorCode, message string, cause error) *SyncError {
	return &SyncError{Code: code, Message: message, cause: cause}
}

// ValidationError reports field-level validation failures.
func ValidationError(fields map[string]string) *SyncError {
	return &SyncError{Code: CodeValidation, Message: "please enter both title and content", Fields: fields}
}

// SessionMismatch is raised when the signed-in identity no longer matches the
// identity a subscription was opened for.
func SessionMismatch() *SyncError {
	return NewSyncError(CodeNotAuthenticated, "authentication expired, please log in again")
}

// Code returns the classification of err, or CodeUnknown.
func Code(err error) ErrorCode {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code
	}
	return CodeUnknown
}

// IsAuthLoss reports whether err means the session is gone or was replaced.
func IsAuthLoss(err error) bool {
	return errors.Is(err, ErrNotAuthenticated)
}
