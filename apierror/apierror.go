// Package apierror defines the error classes the panel client surfaces to
// callers. Components wrap these sentinels so callers can branch with
// errors.Is regardless of where in the stack a failure originated.
package apierror

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrAuthenticationFailed covers bad credentials or a bad
	// second-factor code. User-correctable, surfaced verbatim.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrSessionExpired means a credential refresh failed terminally.
	// The local session is cleared before this error is returned.
	ErrSessionExpired = errors.New("session expired")

	// ErrNetwork means no response was received (including timeouts).
	// Retryable by the caller; the session is untouched.
	ErrNetwork = errors.New("network failure")

	// ErrServer covers 5xx-class responses. The session is untouched.
	ErrServer = errors.New("server error")

	// ErrRateLimited covers 429 responses. Retry policy is a caller
	// concern.
	ErrRateLimited = errors.New("rate limited")

	// ErrBadRequest covers remaining 4xx-class responses.
	ErrBadRequest = errors.New("bad request")
)

// StatusError carries the HTTP status and server-provided message behind a
// classified error kind. Unwrap exposes the kind so errors.Is matching
// works on the sentinels above.
type StatusError struct {
	Kind       error
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s (status %d)", e.Kind.Error(), e.StatusCode)
	}
	return fmt.Sprintf("%s (status %d): %s", e.Kind.Error(), e.StatusCode, e.Message)
}

func (e *StatusError) Unwrap() error {
	return e.Kind
}

// FromStatus classifies a non-2xx HTTP status into a StatusError.
func FromStatus(statusCode int, message string) error {
	var kind error
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		kind = ErrAuthenticationFailed
	case statusCode == http.StatusTooManyRequests:
		kind = ErrRateLimited
	case statusCode >= 500:
		kind = ErrServer
	default:
		kind = ErrBadRequest
	}
	return &StatusError{Kind: kind, StatusCode: statusCode, Message: message}
}
