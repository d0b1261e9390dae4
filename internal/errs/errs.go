// Package errs defines the closed error taxonomy shared by every escrow
// component. Each error carries a Kind so callers can decide whether an
// operation is retriable without string matching.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind int

const (
	// KindValidation: malformed, missing, or out-of-range input. Not retriable.
	KindValidation Kind = iota
	// KindStateTransition: illegal task state transition. Not retriable.
	KindStateTransition
	// KindNotFound: unknown task, funding, dispute, or invoice id.
	KindNotFound
	// KindIntegration: an external collaborator failed. Retriable by the caller.
	KindIntegration
	// KindCrypto: signature or hash mismatch. Not retriable without new input.
	KindCrypto
	// KindPayment: funding-rail failure. May be retriable via a different mode.
	KindPayment
	// KindTimeout: a collaborator did not respond in the configured window.
	KindTimeout
	// KindInternal: invariant violation; a bug, never swallowed.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindStateTransition:
		return "state_transition"
	case KindNotFound:
		return "not_found"
	case KindIntegration:
		return "integration"
	case KindCrypto:
		return "crypto"
	case KindPayment:
		return "payment"
	case KindTimeout:
		return "timeout"
	default:
		return "internal"
	}
}

// Error is the single error type produced by the escrow core.
type Error struct {
	Kind Kind
	Msg  string

	// Set only for KindStateTransition.
	From   string
	To     string
	Reason string

	// Wrapped cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Kind == KindStateTransition {
		return fmt.Sprintf("invalid state transition %s -> %s: %s", e.From, e.To, e.Reason)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match on kind sentinels created with kindSentinel.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Msg == "" && t.Kind == e.Kind
	}
	return false
}

// Sentinels for errors.Is checks, one per kind.
var (
	ErrValidation      = &Error{Kind: KindValidation}
	ErrStateTransition = &Error{Kind: KindStateTransition}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrIntegration     = &Error{Kind: KindIntegration}
	ErrCrypto          = &Error{Kind: KindCrypto}
	ErrPayment         = &Error{Kind: KindPayment}
	ErrTimeout         = &Error{Kind: KindTimeout}
	ErrInternal        = &Error{Kind: KindInternal}
)

// Validation returns a validation error.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// StateTransition returns an illegal-transition error carrying the attempted
// from/to pair and a reason.
func StateTransition(from, to, reason string) *Error {
	return &Error{Kind: KindStateTransition, From: from, To: to, Reason: reason}
}

// NotFound returns a not-found error.
func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

// Integration wraps a collaborator failure.
func Integration(msg string, err error) *Error {
	return &Error{Kind: KindIntegration, Msg: msg, Err: err}
}

// Crypto returns a signature/hash verification error.
func Crypto(format string, args ...any) *Error {
	return &Error{Kind: KindCrypto, Msg: fmt.Sprintf(format, args...)}
}

// Payment returns a funding-rail error.
func Payment(msg string, err error) *Error {
	return &Error{Kind: KindPayment, Msg: msg, Err: err}
}

// Timeout returns a collaborator-timeout error.
func Timeout(format string, args ...any) *Error {
	return &Error{Kind: KindTimeout, Msg: fmt.Sprintf(format, args...)}
}

// Internal returns an invariant-violation error.
func Internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Msg: msg, Err: err}
}

// KindOf reports the Kind of err, unwrapping as needed. Errors that do not
// originate from this package are classified as internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Retriable reports whether the caller may retry the same request unchanged.
func Retriable(err error) bool {
	switch KindOf(err) {
	case KindIntegration, KindTimeout:
		return true
	default:
		return false
	}
}
