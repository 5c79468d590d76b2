package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorType categorizes failures crossing the sync layer boundary
type ErrorType string

const (
	// Rejected before any network call
	ErrorTypeValidation ErrorType = "validation"

	// Transport errors
	ErrorTypeNetwork  ErrorType = "network"
	ErrorTypeTimeout  ErrorType = "timeout"
	ErrorTypeCanceled ErrorType = "canceled"

	// Server-side rejections
	ErrorTypeServer       ErrorType = "server"
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeConflict     ErrorType = "conflict"
	ErrorTypeRateLimit    ErrorType = "rate_limit"
	ErrorTypeUnauthorized ErrorType = "unauthorized"

	ErrorTypeUnknown ErrorType = "unknown"
)

// SyncError represents a structured error with context
type SyncError struct {
	Type       ErrorType
	Message    string
	Cause      error
	Suggestion string
	StatusCode int
	RetryAfter int
}

// Error implements the error interface
func (e *SyncError) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *SyncError) Unwrap() error {
	return e.Cause
}

// WithSuggestion adds a helpful suggestion to the error
func (e *SyncError) WithSuggestion(suggestion string) *SyncError {
	e.Suggestion = suggestion
	return e
}

// HasSuggestion returns true if the error has a suggestion
func (e *SyncError) HasSuggestion() bool {
	return e.Suggestion != ""
}

// IsTransient reports whether retrying the same call may succeed
func (e *SyncError) IsTransient() bool {
	switch e.Type {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeServer, ErrorTypeRateLimit:
		return true
	}
	return false
}

// New creates a new sync error
func New(errorType ErrorType, message string, cause error) *SyncError {
	return &SyncError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// ValidationError creates a validation error
func ValidationError(field, reason string) *SyncError {
	return New(ErrorTypeValidation, fmt.Sprintf("validation error: %s - %s", field, reason), nil)
}

// NetworkError creates a network error
func NetworkError(message string, cause error) *SyncError {
	err := New(ErrorTypeNetwork, message, cause)
	err.Suggestion = "Check your internet connection and try again."
	return err
}

// TimeoutError creates a timeout error
func TimeoutError(cause error) *SyncError {
	err := New(ErrorTypeTimeout, "request timed out", cause)
	err.Suggestion = "The server is taking too long to respond. Try again in a moment."
	return err
}

// ServerError creates a server error
func ServerError(status int) *SyncError {
	err := New(ErrorTypeServer, fmt.Sprintf("server error (%d)", status), nil)
	err.StatusCode = status
	err.Suggestion = "The server encountered an error. Try again in a few moments."
	return err
}

// NotFoundError creates a not found error
func NotFoundError(resourceType, identifier string) *SyncError {
	err := New(ErrorTypeNotFound, fmt.Sprintf("%s not found: %s", resourceType, identifier), nil)
	err.StatusCode = http.StatusNotFound
	return err
}

// RateLimitError creates a rate limit error
func RateLimitError(retryAfter int) *SyncError {
	err := New(ErrorTypeRateLimit, "rate limit exceeded", nil)
	err.StatusCode = http.StatusTooManyRequests
	err.RetryAfter = retryAfter
	err.Suggestion = fmt.Sprintf("Please wait %d seconds before trying again.", retryAfter)
	return err
}

// FromStatus maps a non-2xx HTTP response to a SyncError
func FromStatus(status int, operation string) *SyncError {
	var err *SyncError
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		err = New(ErrorTypeUnauthorized, fmt.Sprintf("%s: not authorized", operation), nil)
	case status == http.StatusNotFound:
		err = New(ErrorTypeNotFound, fmt.Sprintf("%s: not found", operation), nil)
	case status == http.StatusConflict:
		err = New(ErrorTypeConflict, fmt.Sprintf("%s: conflict", operation), nil)
	case status == http.StatusTooManyRequests:
		err = RateLimitError(60)
	case status >= 500:
		err = ServerError(status)
	case status >= 400:
		err = New(ErrorTypeValidation, fmt.Sprintf("%s: rejected (%d)", operation, status), nil)
	default:
		err = New(ErrorTypeUnknown, fmt.Sprintf("%s: unexpected status %d", operation, status), nil)
	}
	err.StatusCode = status
	return err
}

// CategorizeError converts a standard error into a SyncError
func CategorizeError(err error) *SyncError {
	if err == nil {
		return nil
	}

	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr
	}

	switch {
	case errors.Is(err, context.Canceled):
		return New(ErrorTypeCanceled, "operation canceled", err)
	case errors.Is(err, context.DeadlineExceeded):
		return TimeoutError(err)
	}

	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "connection refused"),
		strings.Contains(errMsg, "network"),
		strings.Contains(errMsg, "no such host"):
		return NetworkError("could not reach server", err)
	case strings.Contains(errMsg, "timeout"):
		return TimeoutError(err)
	case strings.Contains(errMsg, "rate limit"):
		return RateLimitError(60)
	default:
		return New(ErrorTypeUnknown, err.Error(), err)
	}
}

// Is reports whether err is a SyncError of the given type
func Is(err error, errorType ErrorType) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Type == errorType
	}
	return false
}
