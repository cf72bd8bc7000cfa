package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents different types of errors that can occur during a crawl
type ErrorType string

const (
	ErrorTypeConfiguration   ErrorType = "configuration"
	ErrorTypeTransport       ErrorType = "transport"
	ErrorTypeRateLimit       ErrorType = "rate_limit"
	ErrorTypeSchema          ErrorType = "schema"
	ErrorTypeStateCorruption ErrorType = "state_corruption"
	ErrorTypeAuth            ErrorType = "auth"
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeUnknown         ErrorType = "unknown"
)

// ErrCapReached signals that the configured item cap has been reached.
// It is a normal terminal condition, not a failure.
var ErrCapReached = errors.New("item cap reached")

// Error represents a crawl error with type information
type Error struct {
	Type    ErrorType
	Message string
	Code    int
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s error", e.Type)
	if e.Code != 0 {
		msg = fmt.Sprintf("%s (code %d)", msg, e.Code)
	}
	msg = fmt.Sprintf("%s: %s", msg, e.Message)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same type, so callers can compare
// against the sentinel values below with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Type == e.Type
}

// Sentinels for errors.Is checks
var (
	ErrConfiguration   = &Error{Type: ErrorTypeConfiguration}
	ErrTransport       = &Error{Type: ErrorTypeTransport}
	ErrRateLimited     = &Error{Type: ErrorTypeRateLimit}
	ErrSchema          = &Error{Type: ErrorTypeSchema}
	ErrStateCorruption = &Error{Type: ErrorTypeStateCorruption}
	ErrAuth            = &Error{Type: ErrorTypeAuth}
	ErrNotFound        = &Error{Type: ErrorTypeNotFound}
)

// NewConfigurationError reports a bad endpoint template or missing placeholder binding
func NewConfigurationError(format string, args ...interface{}) *Error {
	return &Error{Type: ErrorTypeConfiguration, Message: fmt.Sprintf(format, args...)}
}

// NewTransportError reports a connection failure, timeout or server error
func NewTransportError(code int, message string, err error) *Error {
	return &Error{Type: ErrorTypeTransport, Code: code, Message: message, Err: err}
}

// NewRateLimitedError reports a throttling response from the remote API
func NewRateLimitedError(code int, message string) *Error {
	return &Error{Type: ErrorTypeRateLimit, Code: code, Message: message}
}

// NewSchemaError reports a response body that could not be interpreted
func NewSchemaError(message string, err error) *Error {
	return &Error{Type: ErrorTypeSchema, Message: message, Err: err}
}

// NewStateCorruptionError reports an unreadable checkpoint
func NewStateCorruptionError(message string, err error) *Error {
	return &Error{Type: ErrorTypeStateCorruption, Message: message, Err: err}
}

// TypeOf returns the ErrorType of err, or ErrorTypeUnknown
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeTransport, ErrorTypeRateLimit:
		return true
	default:
		return false
	}
}

// IsRetryableError checks if err carries a retryable ErrorType
func IsRetryableError(err error) bool {
	return IsRetryable(TypeOf(err))
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // Network error
		return true
	case 429: // Too Many Requests
		return true
	case 401, 403, 404: // Client errors that won't change
		return false
	default:
		return statusCode >= 500
	}
}
