// Package errors defines the typed errors the enrichment engine classifies
// failures with. The cascade uses the type, not the message, to decide
// whether a failure is recovered locally or surfaced to the caller.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType classifies an error for handling decisions.
type ErrorType string

const (
	// ErrTypeUnavailable marks a source that could not be reached or that
	// declined the call (network error, timeout, rate-limit denial). The
	// cascade recovers by omitting that source's contribution.
	ErrTypeUnavailable ErrorType = "unavailable"
	// ErrTypeRateLimit marks a denied rate-limit or quota acquisition.
	ErrTypeRateLimit ErrorType = "rate_limit"
	// ErrTypeConfig marks invalid or missing configuration.
	ErrTypeConfig ErrorType = "config"
	// ErrTypeNotFound marks a missing persistent record.
	ErrTypeNotFound ErrorType = "not_found"
	// ErrTypeTimeout marks an operation that exceeded its deadline.
	ErrTypeTimeout ErrorType = "timeout"
	// ErrTypeValidation marks rejected input.
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeInternal marks everything else, including persistence failures.
	ErrTypeInternal ErrorType = "internal"
)

// AppError is a typed error with an optional cause and context values.
type AppError struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	parts := []string{string(e.Type), e.Message}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}
	if len(e.Context) > 0 {
		kv := make([]string, 0, len(e.Context))
		for k, v := range e.Context {
			kv = append(kv, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("context={%s}", strings.Join(kv, ", ")))
	}
	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext attaches a context value to the error.
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// UnavailableError builds an error for a source that could not serve a call.
func UnavailableError(source string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeUnavailable,
		Message: fmt.Sprintf("source %s unavailable", source),
		Cause:   cause,
	}
}

// RateLimitError builds an error for a denied acquisition.
func RateLimitError(resource string) *AppError {
	return &AppError{
		Type:    ErrTypeRateLimit,
		Message: fmt.Sprintf("rate limit exceeded for %s", resource),
	}
}

// ConfigError builds a configuration error.
func ConfigError(msg string) *AppError {
	return &AppError{Type: ErrTypeConfig, Message: msg}
}

// NotFoundError builds a missing-record error.
func NotFoundError(resource string) *AppError {
	return &AppError{Type: ErrTypeNotFound, Message: fmt.Sprintf("%s not found", resource)}
}

// TimeoutError builds a deadline-exceeded error.
func TimeoutError(operation string) *AppError {
	return &AppError{Type: ErrTypeTimeout, Message: fmt.Sprintf("timeout during %s", operation)}
}

// ValidationError builds a rejected-input error.
func ValidationError(msg string) *AppError {
	return &AppError{Type: ErrTypeValidation, Message: msg}
}

// InternalError builds an internal error wrapping its cause.
func InternalError(msg string, cause error) *AppError {
	return &AppError{Type: ErrTypeInternal, Message: msg, Cause: cause}
}

// IsType reports whether err (or anything it wraps) is an AppError of the
// given type.
func IsType(err error, errType ErrorType) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Type == errType
}

// GetType returns err's type, or ErrTypeInternal for untyped errors.
func GetType(err error) ErrorType {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return ErrTypeInternal
	}
	return appErr.Type
}
