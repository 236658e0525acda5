// Package apperr defines the error taxonomy shared by the registry, the ledger
// and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure. Kinds are part of the public API surface and are
// returned to callers verbatim.
type Kind string

const (
	KindNotFound            Kind = "not_found"
	KindForbidden           Kind = "forbidden"
	KindInvalidOperation    Kind = "invalid_operation"
	KindInvalidTimeRange    Kind = "invalid_time_range"
	KindInvalidInput        Kind = "invalid_input"
	KindAlreadyExists       Kind = "already_exists"
	KindConflict            Kind = "conflict"
	KindUnauthorized        Kind = "unauthorized"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindInternal            Kind = "internal_error"
)

// Error is a classified error. Message is safe to show to callers; Err is
// kept for logs only.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of the first classified error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// MessageOf returns the caller-safe message of err.
func MessageOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return "An unexpected error occurred"
}

// Convenience constructors for the common kinds.

func NotFound(format string, args ...any) *Error {
	return Newf(KindNotFound, format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return Newf(KindForbidden, format, args...)
}

func InvalidOperation(format string, args ...any) *Error {
	return Newf(KindInvalidOperation, format, args...)
}

func InvalidInput(format string, args ...any) *Error {
	return Newf(KindInvalidInput, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return Newf(KindConflict, format, args...)
}

func Unavailable(err error) *Error {
	return Wrap(KindUpstreamUnavailable, "Datastore is unavailable", err)
}
