// Package errs defines the error taxonomy shared by the chat core and its
// consumers. Every failure that crosses a package boundary is classified by a
// Kind so callers can decide between "fix your input", "retry", and "give up"
// without string matching.
package errs

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindUnknown         Kind = "UNKNOWN"
	KindValidation      Kind = "VALIDATION"
	KindUnauthenticated Kind = "UNAUTHENTICATED"
	KindNotFound        Kind = "NOT_FOUND"
	KindGeneration      Kind = "GENERATION"
	KindStorage         Kind = "STORAGE"
)

// Error carries a Kind, a caller-facing message and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is makes errors.Is(err, &Error{Kind: k}) match on Kind alone.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the Kind of err, unwrapping as needed. Errors outside the
// taxonomy report KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsKind(err error, kind Kind) bool { return KindOf(err) == kind }

// Constructors

func Validation(msg string) error          { return New(KindValidation, msg) }
func Unauthenticated(msg string) error     { return New(KindUnauthenticated, msg) }
func NotFound(msg string) error            { return New(KindNotFound, msg) }
func Generation(msg string, c error) error { return Wrap(KindGeneration, msg, c) }
func Storage(msg string, c error) error    { return Wrap(KindStorage, msg, c) }
