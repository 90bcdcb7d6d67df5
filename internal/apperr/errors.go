// Package apperr provides a small typed error used to map failures to HTTP
// status codes without parsing error strings at the handler boundary.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure the way callers at an HTTP boundary need to.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindConflict
	KindForeignKey
	KindValidation
	KindPermissionDenied
	KindUpstreamFailure
	KindTransientDB
)

// Error wraps an underlying cause with a Kind and a message meant for callers.
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

// New constructs an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a Kind and message to an existing error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// NotFound, Conflict, ForeignKey, Validation, PermissionDenied, Upstream, and
// TransientDB are convenience constructors for the common error kinds.
func NotFound(message string) *Error          { return New(KindNotFound, message) }
func Conflict(message string) *Error          { return New(KindConflict, message) }
func ForeignKey(message string) *Error        { return New(KindForeignKey, message) }
func Validation(message string) *Error        { return New(KindValidation, message) }
func PermissionDenied(message string) *Error  { return New(KindPermissionDenied, message) }
func Upstream(message string, err error) *Error {
	return Wrap(KindUpstreamFailure, message, err)
}
func TransientDB(message string, err error) *Error {
	return Wrap(KindTransientDB, message, err)
}

// KindOf extracts the Kind of err, or KindUnknown if err is not an *Error.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindUnknown
}

// StatusCode maps a Kind to its HTTP status.
func StatusCode(err error) int {
	switch KindOf(err) {
	case KindNotFound, KindForeignKey:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindValidation:
		return http.StatusBadRequest
	case KindPermissionDenied:
		return http.StatusForbidden
	case KindUpstreamFailure:
		return http.StatusBadGateway
	case KindTransientDB:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
