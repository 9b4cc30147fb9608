// Package apierr defines the error taxonomy shared across the engine:
// validation, authorization, not-found, conflict, transient-external,
// permanent-external, persistence, internal. The HTTP handlers, the
// account registry and the response engine return caller-facing
// failures as an *Error so callers can branch on Kind with errors.As
// instead of string matching; everything else, including the
// persistence layer, uses plain fmt.Errorf("...: %w", err).
package apierr

import (
	"errors"
	"fmt"
)

// Kind is a taxonomy bucket, not a specific error identity.
type Kind string

const (
	Validation        Kind = "validation"
	Authorization     Kind = "authorization"
	NotFound          Kind = "not_found"
	Conflict          Kind = "conflict"
	TransientExternal Kind = "transient_external"
	PermanentExternal Kind = "permanent_external"
	Persistence       Kind = "persistence"
	Internal          Kind = "internal"
)

// Error is a structured, machine-readable error with a short code and a
// human message, for everything surfaced to an API caller.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an *Error of the given kind.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap builds an *Error of the given kind around an underlying cause.
func Wrap(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}

// IsConflict reports whether err is a Conflict-kind *Error.
func IsConflict(err error) bool {
	return Is(err, Conflict)
}

// HTTPStatus maps a Kind to its HTTP status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case Validation:
		return 400
	case Authorization:
		return 403
	case NotFound:
		return 404
	case Conflict:
		return 409
	case TransientExternal, PermanentExternal:
		return 502
	case Persistence, Internal:
		return 500
	default:
		return 500
	}
}
