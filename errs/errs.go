// Package errs defines the error taxonomy shared by the platform sessions.
// Raw transport errors are classified into one of these kinds before they
// cross a session boundary; callers branch on KindOf instead of string
// matching.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for retry/surfacing decisions.
type Kind int

const (
	// KindUnknown is the zero value; treated as a generic upstream failure.
	KindUnknown Kind = iota
	// KindNotAuthenticated: no usable credential; recoverable only by user re-login.
	KindNotAuthenticated
	// KindInvalidIdentifier: malformed channel/broadcast identifier; caller error.
	KindInvalidIdentifier
	// KindTransientNetwork: timeout or connection failure; retried with backoff.
	KindTransientNetwork
	// KindAuthExpired: the current token was rejected (401); credential is cleared.
	KindAuthExpired
	// KindPermissionDenied: 403; the token is preserved, the user must re-grant.
	KindPermissionDenied
	// KindRateLimited: 429; surfaced, not retried immediately.
	KindRateLimited
	// KindUpstreamEnded: broadcast/chat no longer exists; terminal.
	KindUpstreamEnded
	// KindUpstream: any other upstream API failure.
	KindUpstream
)

// String returns a short stable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindNotAuthenticated:
		return "not_authenticated"
	case KindInvalidIdentifier:
		return "invalid_identifier"
	case KindTransientNetwork:
		return "transient_network"
	case KindAuthExpired:
		return "auth_expired"
	case KindPermissionDenied:
		return "permission_denied"
	case KindRateLimited:
		return "rate_limited"
	case KindUpstreamEnded:
		return "upstream_ended"
	case KindUpstream:
		return "upstream"
	default:
		return "unknown"
	}
}

// Error is a classified error with an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so errors.Is can match sentinel *Error values.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// New returns a classified error without a cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the kind from an error chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Retryable reports whether the error should be absorbed by backoff/retry
// rather than surfaced to the caller.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransientNetwork, KindUpstream, KindUnknown:
		return true
	default:
		return false
	}
}

// FromStatus maps an HTTP status code to a kind. Sub-reason detection for
// 403 responses is platform specific and handled by the sessions.
func FromStatus(code int) Kind {
	switch {
	case code == http.StatusUnauthorized:
		return KindAuthExpired
	case code == http.StatusForbidden:
		return KindPermissionDenied
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code == http.StatusNotFound:
		return KindUpstreamEnded
	case code >= 500:
		return KindTransientNetwork
	default:
		return KindUpstream
	}
}
