// Package apperror defines the single error type that crosses the HTTP boundary.
//
// Every failure that reaches a handler is normalized into an *Error carrying the
// status code to send, a message that is safe to show to end users, and optional
// structured details. Upstream reasons that must not reach clients go into Cause,
// which is only ever logged.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable machine-readable error identifier.
type Code string

const (
	CodeBadRequest       Code = "bad_request"
	CodeUnauthorized     Code = "unauthorized"
	CodeConflict         Code = "conflict"
	CodeNotFound         Code = "not_found"
	CodeRateLimited      Code = "rate_limited"
	CodeUpstreamContract Code = "upstream_contract"
	CodeUpstream         Code = "upstream_error"
	CodeUnavailable      Code = "service_unavailable"
	CodeTimeout          Code = "timeout"
	CodeConfig           Code = "configuration_error"
	CodeInternal         Code = "internal"
	CodeCanceled         Code = "client_closed_request"
)

// StatusClientClosedRequest is used when the caller disconnected before a response was ready.
const StatusClientClosedRequest = 499

type Error struct {
	Status  int
	Code    Code
	Message string
	Details map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// WithCause attaches the underlying error and returns the receiver.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithDetail sets a single detail key and returns the receiver.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Retryable reports whether a client may reasonably retry the same request.
func (e *Error) Retryable() bool {
	switch e.Status {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func New(status int, code Code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

func BadRequest(message string) *Error {
	return New(http.StatusBadRequest, CodeBadRequest, message)
}

func Unauthorized(message string) *Error {
	if message == "" {
		message = "authentication required"
	}
	return New(http.StatusUnauthorized, CodeUnauthorized, message)
}

func NotFound(message string) *Error {
	return New(http.StatusNotFound, CodeNotFound, message)
}

func Conflict(message string) *Error {
	return New(http.StatusConflict, CodeConflict, message)
}

func RateLimited(message string) *Error {
	if message == "" {
		message = "too many requests"
	}
	return New(http.StatusTooManyRequests, CodeRateLimited, message)
}

// UpstreamContract reports a provider response that could not be used.
func UpstreamContract(message string) *Error {
	return New(http.StatusBadGateway, CodeUpstreamContract, message)
}

// Upstream reports a provider failure that is not a contract violation.
func Upstream(message string) *Error {
	return New(http.StatusBadGateway, CodeUpstream, message)
}

func Unavailable(message string) *Error {
	return New(http.StatusServiceUnavailable, CodeUnavailable, message)
}

func Timeout(message string) *Error {
	return New(http.StatusGatewayTimeout, CodeTimeout, message)
}

func Config(message string) *Error {
	return New(http.StatusInternalServerError, CodeConfig, message)
}

func Canceled() *Error {
	return New(StatusClientClosedRequest, CodeCanceled, "client closed request")
}

func Internal(cause error) *Error {
	return &Error{
		Status:  http.StatusInternalServerError,
		Code:    CodeInternal,
		Message: "internal server error",
		Cause:   cause,
	}
}

// From returns err as an *Error, wrapping anything else as an internal error.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Internal(err)
}

// StatusOf returns the HTTP status for err, 500 when it is not an *Error.
func StatusOf(err error) int {
	return From(err).Status
}
