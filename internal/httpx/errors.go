// Package httpx implements the resilient HTTP client shared by the outbound API
// clients. Every remote call goes through the same choke point: rate-limiter
// admission, circuit-breaker guard, and a bounded-retry HTTP attempt with
// exponential backoff. Failures are classified into a fixed error taxonomy so
// callers can branch on kind instead of parsing messages.
package httpx

import (
	"errors"
	"fmt"

	"github.com/clinicware/atende/internal/resilience"
)

// Error kinds for remote calls. Use errors.Is to test a returned error against
// these sentinels.
var (
	// ErrAuthentication means the remote rejected our credentials. Never retried.
	ErrAuthentication = errors.New("authentication rejected by remote")
	// ErrNotFound means the remote reported a missing resource. Never retried;
	// callers usually treat it as a normal "no result".
	ErrNotFound = errors.New("resource not found")
	// ErrRateLimited means the remote signalled throttling (429). Not retried by
	// the client itself.
	ErrRateLimited = errors.New("rate limited by remote")
	// ErrServer is a remote 5xx. Not retried.
	ErrServer = errors.New("remote server error")
	// ErrConnection is a timeout or connection failure, surfaced after retries
	// are exhausted.
	ErrConnection = errors.New("connection failure")
	// ErrUnknown is an unclassified remote failure (unexpected 4xx, bad payload).
	ErrUnknown = errors.New("unclassified remote error")
	// ErrValidation means the request could not be built from the given input.
	ErrValidation = errors.New("invalid request input")
)

// IsTransient reports whether err is retryable (connection failure or timeout).
func IsTransient(err error) bool {
	return errors.Is(err, ErrConnection)
}

// IsUnavailable reports whether err means the remote could not be reached at
// all, either because the connection failed or because the local breaker is
// open. Callers treat both the same way.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrConnection) || errors.Is(err, resilience.ErrOpen)
}

// classifyStatus maps an HTTP status code to an error kind, or nil for success.
func classifyStatus(code int) error {
	switch {
	case code < 400:
		return nil
	case code == 401 || code == 403:
		return ErrAuthentication
	case code == 404:
		return ErrNotFound
	case code == 429:
		return ErrRateLimited
	case code >= 500:
		return ErrServer
	default:
		return ErrUnknown
	}
}

// statusError attaches the HTTP status to a classified kind.
func statusError(kind error, code int) error {
	return fmt.Errorf("%w: status %d", kind, code)
}

// metricSuffix names the counter bucket for a failed call.
func metricSuffix(err error) string {
	switch {
	case errors.Is(err, ErrAuthentication):
		return "auth_errors"
	case errors.Is(err, ErrNotFound):
		return "not_found_errors"
	case errors.Is(err, ErrRateLimited):
		return "rate_limit_errors"
	case errors.Is(err, ErrServer):
		return "server_errors"
	case errors.Is(err, ErrConnection):
		return "connection_errors"
	case errors.Is(err, resilience.ErrOpen):
		return "breaker_open_errors"
	case errors.Is(err, ErrValidation):
		return "validation_errors"
	default:
		return "unknown_errors"
	}
}
