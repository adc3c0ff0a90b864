// Package apperr defines the error taxonomy shared by the compute
// pipeline and its upstream clients.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Code is a machine-readable error classification.
type Code string

const (
	// CodeValidation marks malformed input rejected before the pipeline runs.
	CodeValidation Code = "VALIDATION_ERROR"
	// CodeParse marks a directive unparseable by both rule and fallback paths.
	CodeParse Code = "PARSE_ERROR"
	// CodeDependency marks total upstream failure or an exceeded time budget.
	CodeDependency Code = "DEPENDENCY_ERROR"
	// CodeRateLimited marks a locally exhausted upstream admission budget.
	CodeRateLimited Code = "RATE_LIMITED"
	// CodeInternal marks an unexpected fault in calculation or selection.
	CodeInternal Code = "INTERNAL_ERROR"
)

// Error is a classified, user-presentable failure. Dependency and
// rate-limit errors carry a retry-after hint.
type Error struct {
	Code       Code          `json:"code"`
	Message    string        `json:"message"`
	RetryAfter time.Duration `json:"-"`

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is/As.
func (e *Error) Unwrap() error { return e.cause }

// Validation builds a CodeValidation error.
func Validation(msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg}
}

// Parse builds a CodeParse error.
func Parse(msg string) *Error {
	return &Error{Code: CodeParse, Message: msg}
}

// Dependency builds a CodeDependency error with a retry hint.
func Dependency(msg string, retryAfter time.Duration, cause error) *Error {
	return &Error{Code: CodeDependency, Message: msg, RetryAfter: retryAfter, cause: cause}
}

// RateLimited builds a CodeRateLimited error for one dependency.
func RateLimited(dependency string, retryAfter time.Duration) *Error {
	return &Error{
		Code:       CodeRateLimited,
		Message:    fmt.Sprintf("local admission budget for %s exhausted", dependency),
		RetryAfter: retryAfter,
	}
}

// Internal builds a CodeInternal error. These always indicate a bug.
func Internal(msg string, cause error) *Error {
	return &Error{Code: CodeInternal, Message: msg, cause: cause}
}

// As extracts a classified error from an error chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// HTTPStatus maps an error code to a response status.
func HTTPStatus(code Code) int {
	switch code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeParse:
		return http.StatusUnprocessableEntity
	case CodeDependency:
		return http.StatusServiceUnavailable
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
