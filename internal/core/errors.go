// Package core provides the shared types, error taxonomy, and interfaces
// for the AI provider gateway.
package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// Code classifies a gateway error. Routing decisions act only on the code,
// never on vendor-specific strings.
type Code string

const (
	// CodeInvalidRequest indicates a caller error (vendor 4xx). Not retried.
	CodeInvalidRequest Code = "invalid_request"
	// CodeQuotaExceeded indicates a vendor 429. Retryable after backoff.
	CodeQuotaExceeded Code = "quota_exceeded"
	// CodeSafetyBlocked indicates the vendor refused the content. Terminal.
	CodeSafetyBlocked Code = "safety_blocked"
	// CodeTransient indicates a network failure, timeout, or vendor 5xx.
	// Retried, then subject to fallback.
	CodeTransient Code = "transient_upstream"
	// CodeModelNotAvailable indicates the requested model cannot serve
	// right now (404/503-class). Triggers fallback without retry.
	CodeModelNotAvailable Code = "model_not_available"
	// CodeUnknownModel indicates a model id with no registry descriptor.
	CodeUnknownModel Code = "unknown_model"
	// CodeInvalidConfiguration indicates request options incompatible with
	// the model's declared capabilities.
	CodeInvalidConfiguration Code = "invalid_configuration"
	// CodeNoProviderConfigured indicates no vendor credential is present
	// for any candidate provider. Fatal to the request, not the process.
	CodeNoProviderConfigured Code = "no_provider_configured"
	// CodeUpstreamProtocol indicates a stream that produced no valid frame.
	CodeUpstreamProtocol Code = "upstream_protocol_error"
	// CodeTimeout indicates a wait/poll deadline expired.
	CodeTimeout Code = "timeout"
	// CodeQueueUnavailable indicates the job broker is in degraded mode.
	CodeQueueUnavailable Code = "queue_unavailable"
	// CodeConflict indicates an operation that is invalid for the
	// resource's current state, e.g. cancelling an active job.
	CodeConflict Code = "conflict"
	// CodeNotFound indicates a missing resource (job id, model listing).
	CodeNotFound Code = "not_found"
	// CodeInternal is the fallback for unclassified failures.
	CodeInternal Code = "internal_error"
)

// Error is the gateway error type. Adapters classify raw vendor failures
// into this taxonomy; everything above the adapters acts on Code alone.
type Error struct {
	Code       Code   `json:"code"`
	Message    string `json:"message"`
	Vendor     Vendor `json:"vendor,omitempty"`
	StatusCode int    `json:"-"`
	// Err holds the original error for logs. Never serialized to clients.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Vendor != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Vendor, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure may succeed on a re-invoke of the
// same provider and model. Matches the 429/5xx classification.
func (e *Error) Retryable() bool {
	return e.Code == CodeTransient || e.Code == CodeQuotaExceeded
}

// TriggersFallback reports whether the failure should move on to the next
// fallback model without further retries of the current one.
func (e *Error) TriggersFallback() bool {
	return e.Code == CodeModelNotAvailable
}

// HTTPStatus returns the status code to surface to gateway clients.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeInvalidRequest, CodeInvalidConfiguration:
		return http.StatusBadRequest
	case CodeUnknownModel, CodeNotFound:
		return http.StatusNotFound
	case CodeQuotaExceeded:
		return http.StatusTooManyRequests
	case CodeConflict:
		return http.StatusConflict
	case CodeSafetyBlocked:
		return http.StatusUnprocessableEntity
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeNoProviderConfigured, CodeQueueUnavailable:
		return http.StatusServiceUnavailable
	case CodeTransient, CodeModelNotAvailable, CodeUpstreamProtocol:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Envelope is the stable client-facing error shape.
type Envelope struct {
	Success bool   `json:"success"`
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// ToEnvelope converts the error to the client envelope. Internal causes and
// stack context stay in logs, never in the response.
func (e *Error) ToEnvelope() Envelope {
	return Envelope{Success: false, Code: e.Code, Message: e.Message}
}

// NewError builds a gateway error with a cause.
func NewError(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Errorf builds a gateway error with a formatted message and no cause.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsError extracts a *Error from err, classifying unknown errors as
// CodeInternal and context deadline failures as CodeTransient so the
// retry policy treats aborted calls uniformly.
func AsError(err error) *Error {
	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Code: CodeTransient, Message: "upstream call deadline exceeded", Err: err}
	}
	return &Error{Code: CodeInternal, Message: "an unexpected error occurred", Err: err}
}

// ParseVendorError classifies a non-2xx vendor response by status code.
// The body is searched for the common {"error":{"message":...}} shape;
// unparseable bodies fall back to a truncated raw excerpt.
func ParseVendorError(vendor Vendor, statusCode int, body []byte, err error) *Error {
	message := gjson.GetBytes(body, "error.message").String()
	if message == "" {
		message = gjson.GetBytes(body, "message").String()
	}
	if message == "" {
		message = truncate(string(body), 256)
	}
	if message == "" {
		message = http.StatusText(statusCode)
	}

	ge := &Error{Message: message, Vendor: vendor, StatusCode: statusCode, Err: err}
	switch {
	case statusCode == http.StatusTooManyRequests:
		ge.Code = CodeQuotaExceeded
	case statusCode == http.StatusNotFound || statusCode == http.StatusServiceUnavailable:
		ge.Code = CodeModelNotAvailable
	case statusCode >= 400 && statusCode < 500:
		ge.Code = CodeInvalidRequest
	default:
		ge.Code = CodeTransient
	}
	return ge
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
