// Package apperr defines the error taxonomy shared by the REST and
// WebSocket surfaces. Services return these so transport layers can map
// failures uniformly without inspecting message strings.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"gorm.io/gorm"
)

// Kind classifies a business-rule failure.
type Kind int

const (
	// Internal is the default for unclassified failures (persistence errors).
	Internal Kind = iota
	// NotFound means a referenced entity does not exist.
	NotFound
	// InvalidArgument means malformed input or an illegal state transition.
	InvalidArgument
	// Forbidden means the actor lacks membership or ownership.
	Forbidden
	// Conflict means the requested state already holds.
	Conflict
	// Unauthenticated means the credential is missing or invalid.
	Unauthenticated
)

// Error carries a Kind plus a client-safe message.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error with the given kind and message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates an Error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the Kind from err, translating gorm.ErrRecordNotFound
// to NotFound. Unrecognized errors classify as Internal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return NotFound
	}
	return Internal
}

// Message returns the client-safe message for err. Internal errors are
// masked so driver details never reach a client.
func Message(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Msg
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "not found"
	}
	return "internal error"
}

// HTTPStatus maps a Kind to its HTTP status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case NotFound:
		return http.StatusNotFound
	case InvalidArgument:
		return http.StatusBadRequest
	case Forbidden:
		return http.StatusForbidden
	case Conflict:
		return http.StatusConflict
	case Unauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
