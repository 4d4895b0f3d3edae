package treegive

import (
	"errors"
	"fmt"
)

// ErrMissingReference is returned by the reconciler when neither the return
// URL nor the client store yields a donation identifier. It is terminal for
// the return view; the user is directed back to start checkout again.
var ErrMissingReference = errors.New("no donation reference available")

// ValidationError blocks a step transition and is recovered locally.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConfigurationError marks a payment-provider integration problem, such as
// an initiation response without a checkout URL. It must not be presented as
// a declined payment.
type ConfigurationError struct {
	Detail string
}

func (e ConfigurationError) Error() string {
	return "payment provider misconfigured: " + e.Detail
}

type retryable interface {
	CanRetry() bool
}

// TransientError wraps a network-level failure that the user may retry.
// It satisfies the same CanRetry probe the gateway uses for retry-later
// responses.
type TransientError struct {
	Err error
}

func (e TransientError) Error() string {
	return e.Err.Error()
}

func (e TransientError) Unwrap() error {
	return e.Err
}

func (e TransientError) CanRetry() bool {
	return true
}

// CanRetry reports whether err (or anything it wraps) advertises itself as
// safe to retry.
func CanRetry(err error) bool {
	for err != nil {
		if re, ok := err.(retryable); ok {
			return re.CanRetry()
		}
		err = errors.Unwrap(err)
	}
	return false
}

// AuthFailureKind distinguishes login failures where the backend signal
// allows it.
type AuthFailureKind int

const (
	// AuthFailureUnknown covers failures with no usable backend signal.
	AuthFailureUnknown AuthFailureKind = iota
	// AuthFailureNoAccount means the account does not exist.
	AuthFailureNoAccount
	// AuthFailureBadCredentials means the password was wrong.
	AuthFailureBadCredentials
	// AuthFailureUnreachable means the backend could not be reached.
	AuthFailureUnreachable
)

// AuthError is a classified authentication failure.
type AuthError struct {
	Kind AuthFailureKind
	Err  error
}

func (e AuthError) Error() string {
	switch e.Kind {
	case AuthFailureNoAccount:
		return "no account exists for that email"
	case AuthFailureBadCredentials:
		return "invalid credentials"
	case AuthFailureUnreachable:
		return "authentication server unreachable"
	default:
		return "authentication failed"
	}
}

func (e AuthError) Unwrap() error {
	return e.Err
}

// CanRetry reports true only for unreachable-server failures; a wrong
// password does not become right by resubmitting it unchanged.
func (e AuthError) CanRetry() bool {
	return e.Kind == AuthFailureUnreachable
}
