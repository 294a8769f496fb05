package relay

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure modes.
var (
	// ErrValidation indicates a request or message failed validation.
	ErrValidation = errors.New("validation error")

	// ErrStreamNotReady indicates Message() was called before Next().
	ErrStreamNotReady = errors.New("stream not ready: call Next() first")

	// ErrStreamClosed indicates an operation on a closed stream.
	ErrStreamClosed = errors.New("stream closed")

	// ErrToolNotFound indicates the requested tool does not exist.
	ErrToolNotFound = errors.New("tool not found")

	// ErrAllProvidersUnavailable indicates both the routed provider and
	// the local fallback failed to serve a request.
	ErrAllProvidersUnavailable = errors.New("all providers unavailable")
)

// ProviderError reports a failure returned by a provider's API.
// Status carries the HTTP status code when the failure came from an
// HTTP response, zero otherwise.
type ProviderError struct {
	Provider    string
	Status      int
	Message     string
	RateLimited bool // HTTP 429 or provider-reported throttling
	Transient   bool // retryable server-side failure (5xx, overloaded)
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// Retryable reports whether the failure is worth retrying against the
// same provider. Rate limits and transient server errors qualify;
// auth failures and malformed requests do not.
func (e *ProviderError) Retryable() bool {
	return e.RateLimited || e.Transient
}

// CircuitOpenError indicates a provider's circuit breaker rejected the
// request without attempting it. RetryAfter hints when the breaker will
// next admit a probe.
type CircuitOpenError struct {
	Provider   string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("%s: circuit open, retry in %s", e.Provider, e.RetryAfter.Round(time.Second))
}
