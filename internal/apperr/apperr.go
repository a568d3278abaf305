// Package apperr defines the service-wide error kinds used across the
// write pipeline, indexing worker, and retrieval core (spec §7).
package apperr

import (
	"errors"
	"fmt"
)

// Kind is one of the error categories a caller-visible or internal failure
// can carry. HTTP/MCP boundary adapters map these to transport status codes;
// the core itself never encodes a status code.
type Kind string

const (
	KindNonEnglishInput Kind = "NON_ENGLISH_INPUT"
	KindInvalidRequest  Kind = "INVALID_REQUEST"
	KindScopeDenied     Kind = "SCOPE_DENIED"
	KindProvider        Kind = "PROVIDER"
	KindStorage         Kind = "STORAGE"
	KindQdrant          Kind = "QDRANT"
)

// Error is the single error type returned by core service methods.
type Error struct {
	Kind    Kind
	Field   string // JSON pointer, e.g. "$.notes[0].text"; optional
	Message string
	Err     error // wrapped cause, optional
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, &apperr.Error{Kind: apperr.KindStorage}) style
// checks via a comparison on Kind rather than identity.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

func NonEnglishInput(field, message string) *Error {
	return &Error{Kind: KindNonEnglishInput, Field: field, Message: message}
}

func InvalidRequest(message string) *Error {
	return &Error{Kind: KindInvalidRequest, Message: message}
}

func InvalidRequestf(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidRequest, Message: fmt.Sprintf(format, args...)}
}

func ScopeDenied(message string) *Error {
	return &Error{Kind: KindScopeDenied, Message: message}
}

func Provider(err error, message string) *Error {
	return &Error{Kind: KindProvider, Message: message, Err: err}
}

func Providerf(err error, format string, args ...any) *Error {
	return &Error{Kind: KindProvider, Message: fmt.Sprintf(format, args...), Err: err}
}

func Storage(err error, message string) *Error {
	return &Error{Kind: KindStorage, Message: message, Err: err}
}

func Storagef(err error, format string, args ...any) *Error {
	return &Error{Kind: KindStorage, Message: fmt.Sprintf(format, args...), Err: err}
}

func Qdrant(err error, message string) *Error {
	return &Error{Kind: KindQdrant, Message: message, Err: err}
}

func Qdrantf(err error, format string, args ...any) *Error {
	return &Error{Kind: KindQdrant, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, and ok=false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
