package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorType classifies failures for retry and account-health decisions
type ErrorType string

const (
	ErrorTypeRateLimit ErrorType = "rate_limited"
	ErrorTypeAuth      ErrorType = "auth_failure"
	ErrorTypeTransient ErrorType = "transient"
	ErrorTypeStorage   ErrorType = "storage"
	ErrorTypeInvalid   ErrorType = "invalid"
	ErrorTypeFatal     ErrorType = "fatal"
	ErrorTypeUnknown   ErrorType = "unknown"
)

// Error represents a classified error with an optional status code
type Error struct {
	Type    ErrorType
	Message string
	Code    int
	Err     error
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

// New creates a classified error
func New(t ErrorType, format string, args ...interface{}) *Error {
	return &Error{Type: t, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err, keeping it in the chain
func Wrap(t ErrorType, err error, message string) *Error {
	return &Error{Type: t, Message: fmt.Sprintf("%s: %v", message, err), Err: err}
}

// RateLimited reports a 429-style throttle
func RateLimited(code int, message string) *Error {
	return &Error{Type: ErrorTypeRateLimit, Message: message, Code: code}
}

// AuthFailure reports rejected credentials
func AuthFailure(code int, message string) *Error {
	return &Error{Type: ErrorTypeAuth, Message: message, Code: code}
}

// Transient reports a failure worth retrying
func Transient(code int, message string) *Error {
	return &Error{Type: ErrorTypeTransient, Message: message, Code: code}
}

// KindOf returns the classification of err. Unclassified errors are unknown.
func KindOf(err error) ErrorType {
	if err == nil {
		return ""
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTransient
	}
	return ErrorTypeUnknown
}

// Is reports whether err is classified as t
func Is(err error, t ErrorType) bool {
	return err != nil && KindOf(err) == t
}

// IsRetryable checks if an error type should be retried on the same account
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeTransient, ErrorTypeStorage:
		return true
	default:
		return false
	}
}

// FromStatusCode maps an HTTP status onto an error type
func FromStatusCode(statusCode int) ErrorType {
	switch {
	case statusCode == 0:
		return ErrorTypeTransient
	case statusCode == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		return ErrorTypeAuth
	case statusCode >= 500:
		return ErrorTypeTransient
	case statusCode >= 400:
		return ErrorTypeInvalid
	default:
		return ""
	}
}
