// Package fault tags errors with the retry semantics the job queue and the
// HTTP layer branch on, so "retry this" and "tell the user" never get
// distinguished by string matching.
package fault

import (
	"errors"
	"fmt"
)

type Kind int

const (
	// KindTransient errors are retried by the queue with bounded backoff.
	// Unknown, untagged errors default to this kind.
	KindTransient Kind = iota
	// KindRejection is a business rejection (insufficient stock, invalid
	// discount code, empty cart). Surfaced to the caller, never retried.
	KindRejection
	// KindTerminal means retries are pointless: exceeded attempts, invalid
	// state transition.
	KindTerminal
	// KindCompensation marks a failed compensating action. It represents
	// actual inventory drift and is logged at high severity, never swallowed.
	KindCompensation
)

func (k Kind) String() string {
	switch k {
	case KindRejection:
		return "rejection"
	case KindTerminal:
		return "terminal"
	case KindCompensation:
		return "compensation"
	default:
		return "transient"
	}
}

// Error carries a machine-readable code alongside the kind so callers and
// logs can name the failure without parsing messages.
type Error struct {
	Kind Kind
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Code)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func Rejection(code string, err error) *Error {
	return &Error{Kind: KindRejection, Code: code, Err: err}
}

func Transient(code string, err error) *Error {
	return &Error{Kind: KindTransient, Code: code, Err: err}
}

func Terminal(code string, err error) *Error {
	return &Error{Kind: KindTerminal, Code: code, Err: err}
}

func Compensation(code string, err error) *Error {
	return &Error{Kind: KindCompensation, Code: code, Err: err}
}

// KindOf reports the kind an error was tagged with. Untagged errors are
// treated as transient so storage hiccups get retried.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindTransient
}

// CodeOf returns the tagged code, or "" for untagged errors.
func CodeOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

func IsRejection(err error) bool { return KindOf(err) == KindRejection }

// Retryable reports whether the queue should schedule another attempt.
func Retryable(err error) bool {
	return KindOf(err) == KindTransient
}
