// Package errors provides structured errors for the relay's HTTP surface.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the category of error for logging and response formatting.
type ErrorType string

const (
	// TypeNotFound indicates an unknown route or resource (HTTP 404)
	TypeNotFound ErrorType = "not_found"
	// TypeRateLimited indicates a client exceeded its connection rate (HTTP 429)
	TypeRateLimited ErrorType = "rate_limited"
	// TypeUnavailable indicates the relay is at capacity (HTTP 503)
	TypeUnavailable ErrorType = "unavailable"
	// TypeInternal indicates server-side error (HTTP 500)
	TypeInternal ErrorType = "internal"
)

// Error represents a structured error with type, message, and context.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the HTTP status code for this error type.
func (e *Error) HTTPStatus() int {
	switch e.Type {
	case TypeNotFound:
		return http.StatusNotFound
	case TypeRateLimited:
		return http.StatusTooManyRequests
	case TypeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func NotFoundError(message string) *Error {
	return newError(TypeNotFound, message, nil)
}

func RateLimitedError(message string) *Error {
	return newError(TypeRateLimited, message, nil)
}

func UnavailableError(message string) *Error {
	return newError(TypeUnavailable, message, nil)
}

func InternalError(message string, cause error) *Error {
	return newError(TypeInternal, message, cause)
}

func newError(t ErrorType, message string, cause error) *Error {
	return &Error{
		Type:    t,
		Message: message,
		Cause:   cause,
		Context: make(map[string]any),
	}
}

// WithField adds a context field to the error (chainable).
func (e *Error) WithField(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// ErrorResponse represents the JSON structure sent to clients.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Type    ErrorType      `json:"type"`
	Context map[string]any `json:"context,omitempty"`
}

func (e *Error) ToResponse() ErrorResponse {
	return ErrorResponse{
		Error:   e.Message,
		Type:    e.Type,
		Context: e.Context,
	}
}

// AsStructuredError converts any error into a structured Error.
// Errors that are not already structured become internal errors.
func AsStructuredError(err error) *Error {
	if err == nil {
		return nil
	}

	var structuredErr *Error
	if errors.As(err, &structuredErr) {
		return structuredErr
	}

	return InternalError("internal server error", err)
}
