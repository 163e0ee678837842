package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/hrygo/assessment/store"
)

// ErrorCode represents a specific error type for assessment operations.
type ErrorCode string

const (
	// ErrCodeValidation indicates malformed or missing required input.
	ErrCodeValidation ErrorCode = "VALIDATION_ERROR"
	// ErrCodeNotFound indicates the session or module does not exist.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeAccessDenied indicates the caller does not own the session.
	ErrCodeAccessDenied ErrorCode = "ACCESS_DENIED"
	// ErrCodeConcurrentModification indicates a stale session version.
	ErrCodeConcurrentModification ErrorCode = "CONCURRENT_MODIFICATION"
	// ErrCodeAlreadyExists indicates the session id is taken.
	ErrCodeAlreadyExists ErrorCode = "ALREADY_EXISTS"
	// ErrCodePersistence indicates the durable store failed after retries.
	ErrCodePersistence ErrorCode = "PERSISTENCE_ERROR"
	// ErrCodePrerequisiteUnmet indicates a downstream module was requested too early.
	ErrCodePrerequisiteUnmet ErrorCode = "PREREQUISITE_UNMET"
	// ErrCodeDependencyUnavailable indicates an external capability failed with no fallback.
	ErrCodeDependencyUnavailable ErrorCode = "DEPENDENCY_UNAVAILABLE"
	// ErrCodeTimeout indicates the turn deadline elapsed.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
	// ErrCodeSessionClosed indicates the session no longer accepts turns.
	ErrCodeSessionClosed ErrorCode = "SESSION_CLOSED"
	// ErrCodeInternal indicates an unexpected failure.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// AssessmentError represents a structured error for assessment operations.
type AssessmentError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *AssessmentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *AssessmentError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error.
func (e *AssessmentError) WithContext(key string, value interface{}) *AssessmentError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// GetCode returns the error code.
func (e *AssessmentError) GetCode() ErrorCode {
	return e.Code
}

// Retryable reports whether the caller may resend the same request.
func (e *AssessmentError) Retryable() bool {
	switch e.Code {
	case ErrCodeConcurrentModification, ErrCodePersistence, ErrCodeTimeout, ErrCodeDependencyUnavailable:
		return true
	}
	return false
}

// Convenience constructors for common error types.

// Validation creates a validation error.
func Validation(msg string) *AssessmentError {
	return &AssessmentError{Code: ErrCodeValidation, Message: msg}
}

// NotFound creates a not found error.
func NotFound(msg string) *AssessmentError {
	return &AssessmentError{Code: ErrCodeNotFound, Message: msg}
}

// AccessDenied creates an access denied error.
func AccessDenied(msg string) *AssessmentError {
	return &AssessmentError{Code: ErrCodeAccessDenied, Message: msg}
}

// ConcurrentModification creates a version conflict error.
func ConcurrentModification(cause error) *AssessmentError {
	return &AssessmentError{Code: ErrCodeConcurrentModification, Message: "session was modified concurrently, reload and retry", Cause: cause}
}

// AlreadyExists creates an already exists error.
func AlreadyExists(msg string) *AssessmentError {
	return &AssessmentError{Code: ErrCodeAlreadyExists, Message: msg}
}

// Persistence creates a persistence error.
func Persistence(cause error) *AssessmentError {
	return &AssessmentError{Code: ErrCodePersistence, Message: "failed to persist session", Cause: cause}
}

// PrerequisiteUnmet creates a prerequisite error naming what is missing.
func PrerequisiteUnmet(module string, missing []string) *AssessmentError {
	return (&AssessmentError{
		Code:    ErrCodePrerequisiteUnmet,
		Message: fmt.Sprintf("prerequisites for %s are not met", module),
	}).WithContext("module", module).WithContext("missing", missing)
}

// DependencyUnavailable creates a dependency unavailable error.
func DependencyUnavailable(msg string, cause error) *AssessmentError {
	return &AssessmentError{Code: ErrCodeDependencyUnavailable, Message: msg, Cause: cause}
}

// Timeout creates a timeout error.
func Timeout(msg string, cause error) *AssessmentError {
	return &AssessmentError{Code: ErrCodeTimeout, Message: msg, Cause: cause}
}

// SessionClosed creates a session closed error.
func SessionClosed(status string) *AssessmentError {
	return (&AssessmentError{Code: ErrCodeSessionClosed, Message: "session no longer accepts turns"}).WithContext("status", status)
}

// Internal creates an internal error.
func Internal(msg string, cause error) *AssessmentError {
	return &AssessmentError{Code: ErrCodeInternal, Message: msg, Cause: cause}
}

// Wrap wraps an existing error with additional context.
func Wrap(cause error, code ErrorCode, msg string) *AssessmentError {
	return &AssessmentError{Code: code, Message: msg, Cause: cause}
}

// IsCode checks if an error is of a specific code.
func IsCode(err error, code ErrorCode) bool {
	var assessmentErr *AssessmentError
	if stderrors.As(err, &assessmentErr) {
		return assessmentErr.Code == code
	}
	return false
}

// GetCodeFromError extracts the error code from any error.
// Returns the provided default code if the error is not an AssessmentError.
func GetCodeFromError(err error, defaultCode ErrorCode) ErrorCode {
	var assessmentErr *AssessmentError
	if stderrors.As(err, &assessmentErr) {
		return assessmentErr.Code
	}
	return defaultCode
}

// HTTPStatus maps an error code onto the API status code.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeAccessDenied:
		return http.StatusForbidden
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeConcurrentModification, ErrCodeAlreadyExists, ErrCodeSessionClosed:
		return http.StatusConflict
	case ErrCodePrerequisiteUnmet:
		return http.StatusFailedDependency
	case ErrCodeDependencyUnavailable, ErrCodePersistence:
		return http.StatusServiceUnavailable
	case ErrCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// FromStoreError translates store sentinels into coded errors. Errors that are
// already coded pass through unchanged.
func FromStoreError(err error, msg string) *AssessmentError {
	if err == nil {
		return nil
	}
	var assessmentErr *AssessmentError
	if stderrors.As(err, &assessmentErr) {
		return assessmentErr
	}
	switch {
	case stderrors.Is(err, store.ErrValidation):
		return Wrap(err, ErrCodeValidation, msg)
	case stderrors.Is(err, store.ErrNotFound):
		return Wrap(err, ErrCodeNotFound, msg)
	case stderrors.Is(err, store.ErrAlreadyExists):
		return Wrap(err, ErrCodeAlreadyExists, msg)
	case stderrors.Is(err, store.ErrConcurrentModification):
		return ConcurrentModification(err)
	case stderrors.Is(err, store.ErrPersistence):
		return Persistence(err)
	case stderrors.Is(err, context.DeadlineExceeded):
		return Timeout(msg, err)
	default:
		return Internal(msg, err)
	}
}
