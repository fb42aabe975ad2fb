package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error types for different domains
type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "VALIDATION_ERROR"
	ErrorTypePersistence  ErrorType = "PERSISTENCE_ERROR"
	ErrorTypeInvalidToken ErrorType = "INVALID_TOKEN"
)

// Common application errors
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrInvalidToken = errors.New("invalid token")
	ErrPersistence  = errors.New("persistence failure")
)

// AppError represents a custom application error with context
type AppError struct {
	Type     ErrorType              `json:"type"`
	Message  string                 `json:"message"`
	Code     string                 `json:"code,omitempty"`
	HTTPCode int                    `json:"-"`
	Details  map[string]interface{} `json:"details,omitempty"`
	Cause    error                  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is match an AppError against the sentinel of its type.
func (e *AppError) Is(target error) bool {
	switch e.Type {
	case ErrorTypePersistence:
		return target == ErrPersistence
	case ErrorTypeInvalidToken:
		return target == ErrInvalidToken
	case ErrorTypeValidation:
		return target == ErrInvalidInput
	}
	return false
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, message string, httpCode int) *AppError {
	return &AppError{
		Type:     errorType,
		Message:  message,
		HTTPCode: httpCode,
		Details:  make(map[string]interface{}),
	}
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// WithCause adds the underlying cause
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetail adds a detail field
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewValidationError creates a validation error
func NewValidationError(message string) *AppError {
	return NewAppError(ErrorTypeValidation, message, http.StatusBadRequest)
}

// NewPersistenceError reports a failed backing-store call for the named operation.
func NewPersistenceError(operation string, cause error) *AppError {
	return NewAppError(ErrorTypePersistence, operation+" failed in backing store", http.StatusServiceUnavailable).
		WithCause(cause).
		WithDetail("operation", operation)
}

// NewInvalidTokenError creates a token verification error
func NewInvalidTokenError(message string) *AppError {
	return NewAppError(ErrorTypeInvalidToken, message, http.StatusUnauthorized)
}

// IsPersistence checks if an error is a backing-store failure
func IsPersistence(err error) bool {
	return errors.Is(err, ErrPersistence)
}

// IsInvalidToken checks if an error is a token verification failure
func IsInvalidToken(err error) bool {
	return errors.Is(err, ErrInvalidToken)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// HTTPStatus returns the status code carried by an AppError in err's chain, or 500.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.HTTPCode != 0 {
		return appErr.HTTPCode
	}
	return http.StatusInternalServerError
}
