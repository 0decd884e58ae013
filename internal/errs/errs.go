// Package errs classifies errors raised anywhere in the orchestration
// engine as terminal, retryable, or cancelled, so the retry policy and
// scheduler can switch on the class without string-matching messages.
package errs

import (
	"errors"
	"fmt"
)

// Class is the behavioral category of an error: it is what the retry
// policy switches on, independent of the error's message or origin.
type Class int

const (
	// ClassUnclassified errors are treated as retryable by default —
	// the caller hasn't explicitly marked them terminal.
	ClassUnclassified Class = iota
	ClassTerminal
	ClassRetryable
	ClassCancelled
)

func (c Class) String() string {
	switch c {
	case ClassTerminal:
		return "terminal"
	case ClassRetryable:
		return "retryable"
	case ClassCancelled:
		return "cancelled"
	default:
		return "unclassified"
	}
}

// Error wraps a cause with an explicit behavioral class and a short
// human-readable reason.
type Error struct {
	class  Class
	reason string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.class, e.reason, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.class, e.reason)
}

func (e *Error) Unwrap() error { return e.cause }

// Class returns the error's behavioral class.
func (e *Error) Class() Class { return e.class }

// Terminal wraps cause as an error that must never be retried:
// input-validation failures, not-found on a referenced entity,
// permission denied, or a policy-layer rejection.
func Terminal(reason string, cause error) error {
	return &Error{class: ClassTerminal, reason: reason, cause: cause}
}

// Retryable wraps cause as an error the caller should retry under the
// configured backoff policy: transport failures, service-unavailable
// responses, timeouts.
func Retryable(reason string, cause error) error {
	return &Error{class: ClassRetryable, reason: reason, cause: cause}
}

// Cancelled wraps cause as terminal-for-this-attempt cancellation; only
// a whole-task re-queue may retry it.
func Cancelled(cause error) error {
	return &Error{class: ClassCancelled, reason: "cancelled", cause: cause}
}

// ClassOf inspects err for an *Error in its chain and returns its
// class, or ClassUnclassified if none is found.
func ClassOf(err error) Class {
	if err == nil {
		return ClassUnclassified
	}
	var e *Error
	if errors.As(err, &e) {
		return e.class
	}
	return ClassUnclassified
}

// IsTerminal reports whether err is explicitly classified terminal.
func IsTerminal(err error) bool { return ClassOf(err) == ClassTerminal }

// IsCancelled reports whether err is explicitly classified cancelled.
func IsCancelled(err error) bool { return ClassOf(err) == ClassCancelled }
