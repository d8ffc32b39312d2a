package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unified error code across pyhost.
type ErrorCode string

// Request and session error codes
const (
	ErrInvalidRequest      ErrorCode = "INVALID_REQUEST"
	ErrUnauthorized        ErrorCode = "UNAUTHORIZED"
	ErrRateLimited         ErrorCode = "RATE_LIMITED"
	ErrSessionNotFound     ErrorCode = "SESSION_NOT_FOUND"
	ErrSessionExists       ErrorCode = "SESSION_EXISTS"
	ErrSessionBusy         ErrorCode = "SESSION_BUSY"
	ErrEnvironmentNotFound ErrorCode = "ENVIRONMENT_NOT_FOUND"
	ErrEnvironmentExists   ErrorCode = "ENVIRONMENT_EXISTS"
)

// Execution error codes
const (
	ErrTimeout          ErrorCode = "TIMEOUT"
	ErrCancelled        ErrorCode = "CANCELLED"
	ErrInterpreterError ErrorCode = "INTERPRETER_ERROR"
	ErrInternalError    ErrorCode = "INTERNAL_ERROR"
	ErrUnavailable      ErrorCode = "SERVICE_UNAVAILABLE"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	SessionID  string    `json:"session_id,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithSession records the session the error belongs to.
func (e *Error) WithSession(sessionID string) *Error {
	e.SessionID = sessionID
	return e
}

// AsError extracts a *Error from the chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// HTTPStatusFor maps an error code to the HTTP status the API answers with.
func HTTPStatusFor(code ErrorCode) int {
	switch code {
	case ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrSessionNotFound, ErrEnvironmentNotFound:
		return http.StatusNotFound
	case ErrSessionExists, ErrEnvironmentExists:
		return http.StatusConflict
	case ErrSessionBusy, ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrTimeout:
		return http.StatusGatewayTimeout
	case ErrUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewInvalidRequestError is shorthand for a non-retryable validation failure.
func NewInvalidRequestError(message string) *Error {
	return NewError(ErrInvalidRequest, message).WithHTTPStatus(http.StatusBadRequest)
}

// NewSessionBusyError reports that another execution holds the session.
func NewSessionBusyError(sessionID string) *Error {
	return NewError(ErrSessionBusy, "session is busy with another execution").
		WithSession(sessionID).
		WithRetryable(true).
		WithHTTPStatus(http.StatusTooManyRequests)
}

// NewInternalError wraps a host-level fault.
func NewInternalError(message string, cause error) *Error {
	return NewError(ErrInternalError, message).
		WithCause(cause).
		WithHTTPStatus(http.StatusInternalServerError)
}
