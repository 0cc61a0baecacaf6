// Package apperr provides the structured error taxonomy shared by the core
// services and mapped to HTTP statuses and socket error events at the edges.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind categorizes an error for callers and response formatting.
type Kind string

const (
	// KindNotFound indicates an unknown moment or post.
	KindNotFound Kind = "not_found"
	// KindInactive indicates a write against an expired or archived moment.
	KindInactive Kind = "inactive"
	// KindNotParticipant indicates a write by a user who never joined.
	KindNotParticipant Kind = "not_participant"
	// KindValidation indicates a length, range or enum violation.
	KindValidation Kind = "validation_failed"
	// KindUnauthenticated indicates a request without an anonymous identity.
	KindUnauthenticated Kind = "unauthenticated"
	// KindConflict indicates a duplicate-creation race, resolved by retry.
	KindConflict Kind = "conflict"
	// KindUnavailable indicates a backing store timeout or outage.
	KindUnavailable Kind = "unavailable"
)

// Error is a structured error with a stable kind and human-readable message.
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

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the error kind to an HTTP status code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindInactive:
		return http.StatusGone
	case KindNotParticipant:
		return http.StatusForbidden
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindConflict:
		return http.StatusConflict
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

func Inactive(message string) *Error {
	return &Error{Kind: KindInactive, Message: message}
}

func NotParticipant(message string) *Error {
	return &Error{Kind: KindNotParticipant, Message: message}
}

func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

func Unauthenticated(message string) *Error {
	return &Error{Kind: KindUnauthenticated, Message: message}
}

func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

func Unavailable(message string, cause error) *Error {
	return &Error{Kind: KindUnavailable, Message: message, Cause: cause}
}

// KindOf extracts the kind from any error, or empty string for plain errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, k Kind) bool {
	return KindOf(err) == k
}
