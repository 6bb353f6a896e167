// Package dispatcherr defines the classified error type shared by every
// stage of the request pipeline (access control, policy, quota, dispatch
// execution). Keeping it in its own package lets early stages (access,
// policy, quota) raise a classified error without importing the dispatch
// package itself, which would create an import cycle.
package dispatcherr

import "fmt"

// Kind classifies an error for retry/fallback and HTTP-status purposes.
type Kind int

const (
	// KindBadRequest means the caller's request itself is invalid or not
	// admissible (unknown model, suspended account, over a cost ceiling).
	// Never retried, never triggers a fallback.
	KindBadRequest Kind = iota
	// KindConfiguration means the gateway is misconfigured (missing API
	// key for a provider). Never retried.
	KindConfiguration
	// KindUpstream means the upstream provider returned an error or a
	// non-2xx status. Retryable and fallback-eligible.
	KindUpstream
	// KindInternal means a local failure (storage error mid-pipeline,
	// unexpected state). Retryable and fallback-eligible.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindConfiguration:
		return "configuration"
	case KindUpstream:
		return "upstream"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is the classified error carried through the pipeline.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether an attempt that failed with this error is
// eligible for a same-candidate retry or a fallback to the next candidate.
// Only upstream and internal failures are; bad requests and configuration
// errors are never retried because retrying cannot change the outcome.
func (e *Error) Retryable() bool {
	return e.Kind == KindUpstream || e.Kind == KindInternal
}

func BadRequest(msg string) *Error    { return &Error{Kind: KindBadRequest, Message: msg} }
func Configuration(msg string) *Error { return &Error{Kind: KindConfiguration, Message: msg} }
func Upstream(msg string, cause error) *Error {
	return &Error{Kind: KindUpstream, Message: msg, Cause: cause}
}
func Internal(msg string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: msg, Cause: cause}
}

// As reports whether err wraps a *Error, and returns it.
func As(err error) (*Error, bool) {
	var target *Error
	if e, ok := err.(*Error); ok {
		return e, true
	}
	if u, ok := err.(interface{ Unwrap() error }); ok {
		return As(u.Unwrap())
	}
	_ = target
	return nil, false
}
