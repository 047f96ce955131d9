package catalog

import (
	"errors"
	"fmt"
	"net/http"
)

// Error categories. Every failure returned by the remote source wraps exactly
// one of the first four; ErrNoCache is terminal for the repositories.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrTransport    = errors.New("transport failure")
	ErrBadResponse  = errors.New("bad response")
	ErrDecode       = errors.New("decode failure")
	ErrNoCache      = errors.New("no cached data available")
)

// StatusError reports a non-2xx response. It matches ErrBadResponse.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d from %s", ErrBadResponse, e.StatusCode, e.URL)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrBadResponse
}

// KindOf returns a stable, machine-readable name for the category of err.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoCache):
		return "no_cache_available"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrTransport):
		return "transport_failure"
	case errors.Is(err, ErrBadResponse):
		return "bad_response"
	case errors.Is(err, ErrDecode):
		return "decode_failure"
	default:
		return "internal"
	}
}

// Retryable reports whether a caller-level retry could plausibly succeed.
// The repositories never retry on their own.
func Retryable(err error) bool {
	if errors.Is(err, ErrTransport) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
	}
	return false
}
