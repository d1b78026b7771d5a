package openai

import (
	"errors"
	"fmt"
)

// ErrorKind classifies provider failures so callers can decide between
// retrying, failing the request, and surfacing a configuration problem.
type ErrorKind string

const (
	KindRateLimit         ErrorKind = "rate_limit"
	KindTimeout           ErrorKind = "timeout"
	KindConnection        ErrorKind = "connection"
	KindAuth              ErrorKind = "auth"
	KindInvalidModel      ErrorKind = "invalid_model"
	KindMalformedResponse ErrorKind = "malformed_response"
	KindDimensionMismatch ErrorKind = "dimension_mismatch"
	KindAPI               ErrorKind = "api"
)

// APIError is the single error type produced by the client. StatusCode is
// zero for failures that never reached the upstream API.
type APIError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("openai: %s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("openai: %s: %s", e.Kind, e.Message)
}

// Retryable reports whether the error is transient. Auth and model
// configuration failures are permanent and must not be retried.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindRateLimit, KindTimeout, KindConnection:
		return true
	}
	return false
}

// KindOf extracts the error kind, or empty string for foreign errors.
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}
