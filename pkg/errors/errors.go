package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorType represents the class of failure surfaced by the sync engine
type ErrorType string

const (
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeUpstream      ErrorType = "upstream"
	ErrorTypeRateLimit     ErrorType = "rate_limit"
	ErrorTypeParse         ErrorType = "parse"
	ErrorTypeStorage       ErrorType = "storage"
	ErrorTypeNetwork       ErrorType = "network"
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeConflict      ErrorType = "conflict"
	ErrorTypeUnknown       ErrorType = "unknown"
)

// Error represents a typed failure. Code carries the upstream HTTP status
// for upstream errors and is zero otherwise.
type Error struct {
	Type       ErrorType
	Message    string
	Code       int
	Body       string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Configuration reports missing or invalid credentials or settings. Never retried.
func Configuration(msg string) *Error {
	return &Error{Type: ErrorTypeConfiguration, Message: msg}
}

// Upstream reports a non-2xx response or a transport failure (status 0).
func Upstream(status int, body string, err error) *Error {
	msg := fmt.Sprintf("upstream returned status %d", status)
	typ := ErrorTypeUpstream
	if status == 0 {
		typ = ErrorTypeNetwork
		msg = "upstream request failed"
		if err != nil {
			msg = fmt.Sprintf("upstream request failed: %v", err)
		}
	}
	return &Error{Type: typ, Message: msg, Code: status, Body: body, Err: err}
}

// RateLimited reports that a sync was refused because the last one is too recent.
func RateLimited(retryAfter time.Duration) *Error {
	return &Error{
		Type:       ErrorTypeRateLimit,
		Message:    fmt.Sprintf("sync allowed again in %s", retryAfter.Round(time.Second)),
		RetryAfter: retryAfter,
	}
}

// Parse reports an unreadable stored or upstream payload.
func Parse(msg string, err error) *Error {
	return &Error{Type: ErrorTypeParse, Message: msg, Err: err}
}

// Storage reports a persistence failure.
func Storage(op string, err error) *Error {
	return &Error{Type: ErrorTypeStorage, Message: fmt.Sprintf("%s failed", op), Err: err}
}

// Conflict reports an operation that collides with one already running.
func Conflict(msg string) *Error {
	return &Error{Type: ErrorTypeConflict, Message: msg}
}

// As returns the typed error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsType checks whether err carries the given type
func IsType(err error, t ErrorType) bool {
	e, ok := As(err)
	return ok && e.Type == t
}

// IsRateLimitStatus reports whether err is an upstream 429.
func IsRateLimitStatus(err error) bool {
	e, ok := As(err)
	return ok && e.Code == http.StatusTooManyRequests
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeUpstream:
		return true
	case ErrorTypeConfiguration, ErrorTypeRateLimit, ErrorTypeParse, ErrorTypeNotFound, ErrorTypeConflict:
		return false
	default:
		return false
	}
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // Network error
		return true
	case 429: // Too Many Requests
		return true
	case 500, 502, 503, 504: // Server errors
		return true
	case 401, 403, 404: // Client errors that won't change
		return false
	default:
		return statusCode >= 500
	}
}
