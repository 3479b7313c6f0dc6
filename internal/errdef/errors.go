// Package errdef defines the error taxonomy shared across the pipeline.
// Handlers map these to HTTP responses; everything below them returns the
// typed error untouched.
package errdef

import "fmt"

// DecodeError means the uploaded payload is not a valid raster image.
// Not retryable.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid image: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ModelUnavailableError means the local model has not loaded successfully.
// The disease pipeline treats this as a signal to try the remote fallback.
type ModelUnavailableError struct {
	Err error
}

func (e *ModelUnavailableError) Error() string {
	return fmt.Sprintf("model unavailable: %v", e.Err)
}

func (e *ModelUnavailableError) Unwrap() error { return e.Err }

// NetworkError is a transport-level failure talking to a remote service.
// Retryable at the caller's discretion.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// RemoteServiceError is a non-2xx response from a remote service. Detail
// carries the server-provided "detail" or "message" field when present.
type RemoteServiceError struct {
	StatusCode int
	Detail     string
}

func (e *RemoteServiceError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("remote service error (status %d): %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("remote service error (status %d)", e.StatusCode)
}

// InvalidResponseError means a remote service returned a success status but
// the body did not match the expected schema. Treated as a defect in the
// remote service, surfaced to users as a generic failure.
type InvalidResponseError struct {
	Reason string
}

func (e *InvalidResponseError) Error() string {
	return fmt.Sprintf("invalid response from remote service: %s", e.Reason)
}

// ValidationError is a rejected request parameter.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
