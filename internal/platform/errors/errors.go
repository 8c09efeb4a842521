// Package errors provides structured errors with a client-visible type, context fields and HTTP status mapping.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType is the category of an error. It doubles as the wire "code" in error envelopes.
type ErrorType string

const (
	// TypeAuthentication indicates a bad or expired token (HTTP 401)
	TypeAuthentication ErrorType = "authentication_error"
	// TypeValidation indicates a malformed envelope or missing field (HTTP 400)
	TypeValidation ErrorType = "validation_error"
	// TypeAuthorization indicates a cross-tenant access attempt (HTTP 403)
	TypeAuthorization ErrorType = "authorization_error"
	// TypeRateLimited indicates the caller exceeded its message budget (HTTP 429)
	TypeRateLimited ErrorType = "rate_limited"
	// TypeNotFound indicates a missing resource (HTTP 404)
	TypeNotFound ErrorType = "not_found"
	// TypeTransport indicates a socket failure (HTTP 500)
	TypeTransport ErrorType = "transport_error"
	// TypeUpstreamUnavailable indicates a broker or store outage (HTTP 503)
	TypeUpstreamUnavailable ErrorType = "upstream_unavailable"
	// TypeInternal indicates a server-side bug (HTTP 500)
	TypeInternal ErrorType = "internal_error"
)

// Error represents a structured error with type, message, and context.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the appropriate HTTP status code for this error type.
func (e *Error) HTTPStatus() int {
	switch e.Type {
	case TypeAuthentication:
		return http.StatusUnauthorized
	case TypeValidation:
		return http.StatusBadRequest
	case TypeAuthorization:
		return http.StatusForbidden
	case TypeRateLimited:
		return http.StatusTooManyRequests
	case TypeNotFound:
		return http.StatusNotFound
	case TypeUpstreamUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ClientVisible reports whether the message may be shown to a client verbatim.
func (e *Error) ClientVisible() bool {
	return e.Type != TypeInternal && e.Type != TypeTransport
}

func newError(t ErrorType, message string, cause error) *Error {
	return &Error{
		Type:    t,
		Message: message,
		Cause:   cause,
		Context: make(map[string]any),
	}
}

// AuthenticationError creates a new authentication error (HTTP 401).
func AuthenticationError(message string, cause error) *Error {
	return newError(TypeAuthentication, message, cause)
}

// ValidationError creates a new validation error (HTTP 400).
func ValidationError(message string) *Error {
	return newError(TypeValidation, message, nil)
}

// AuthorizationError creates a new authorization error (HTTP 403).
func AuthorizationError(message string) *Error {
	return newError(TypeAuthorization, message, nil)
}

// RateLimitError creates a new rate limit error (HTTP 429).
func RateLimitError(message string) *Error {
	return newError(TypeRateLimited, message, nil)
}

// NotFoundError creates a new not-found error (HTTP 404).
func NotFoundError(message string) *Error {
	return newError(TypeNotFound, message, nil)
}

// TransportError creates a new transport error.
func TransportError(message string, cause error) *Error {
	return newError(TypeTransport, message, cause)
}

// UpstreamUnavailableError creates a new upstream error (HTTP 503).
func UpstreamUnavailableError(message string, cause error) *Error {
	return newError(TypeUpstreamUnavailable, message, cause)
}

// InternalError creates a new internal error (HTTP 500).
func InternalError(message string, cause error) *Error {
	return newError(TypeInternal, message, cause)
}

// WithContext adds context fields to the error (chainable).
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithField is an alias for WithContext (chainable).
func (e *Error) WithField(key string, value any) *Error {
	return e.WithContext(key, value)
}

// ErrorResponse represents the JSON structure sent to HTTP clients.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Type    ErrorType      `json:"type"`
	Context map[string]any `json:"context,omitempty"`
}

// ToResponse converts an Error to an ErrorResponse for JSON serialization.
func (e *Error) ToResponse() ErrorResponse {
	return ErrorResponse{
		Error:   e.Message,
		Type:    e.Type,
		Context: e.Context,
	}
}

// AsStructuredError converts any error into a structured Error.
// If err is already an *Error, returns it unchanged.
// Otherwise wraps it as an internal error.
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

// IsType reports whether err is a structured error of the given type.
func IsType(err error, t ErrorType) bool {
	var structuredErr *Error
	return errors.As(err, &structuredErr) && structuredErr.Type == t
}
