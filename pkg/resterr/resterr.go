// Package resterr defines the error taxonomy shared by every rserv component.
//
// Each error carries a Kind (the machine-readable class), a human message,
// and optional field-level details. The HTTP layer maps kinds to status
// codes and renders the uniform error envelope:
//
//	{
//	  "error": {
//	    "message": "...",
//	    "status_code": 400,
//	    "details": ["field name is required"]
//	  },
//	  "_links": {"self": {"href": "..."}}
//	}
//
// Components below the HTTP layer return *Error values (or wrap them);
// handlers recover the kind with errors.As and never inspect message text.
package resterr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for status mapping and client handling.
type Kind string

const (
	// KindValidation covers schema mismatches, missing required fields,
	// bad enum values, invalid aggregation arguments and sort specs.
	KindValidation Kind = "ValidationError"

	// KindIntegrity covers foreign-key and uniqueness violations, and
	// non-cascade deletion of a referenced document.
	KindIntegrity Kind = "IntegrityError"

	// KindNotFound covers unknown entities, absent document ids and
	// absent job ids.
	KindNotFound Kind = "NotFound"

	// KindConflict covers save-with-id collisions and results requested
	// before a job reached a terminal state.
	KindConflict Kind = "Conflict"

	// KindQuerySyntax covers Sulpher lex and parse failures.
	KindQuerySyntax Kind = "QuerySyntaxError"

	// KindQueryRuntime covers unresolvable variables and predicate type
	// mismatches during query execution.
	KindQueryRuntime Kind = "QueryRuntimeError"

	// KindTimeout covers queries that exceeded their wall-clock budget.
	KindTimeout Kind = "TimeoutError"

	// KindStorage covers I/O failures, lock acquisition failures and
	// corrupt JSON on disk.
	KindStorage Kind = "StorageError"
)

// Error is the concrete error type surfaced at the request boundary.
type Error struct {
	Kind    Kind
	Message string
	Details []string
	Err     error // wrapped cause, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// StatusCode maps the error kind to its HTTP status.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindValidation, KindQuerySyntax, KindQueryRuntime:
		return http.StatusBadRequest
	case KindIntegrity:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindTimeout, KindStorage:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Public reports whether the message is safe to show to callers verbatim.
// Storage failures are reduced to a generic message at the boundary.
func (e *Error) Public() bool {
	return e.Kind != KindStorage
}

// New builds an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an error of the given kind around a cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithDetails attaches field-level detail strings and returns the error.
func (e *Error) WithDetails(details ...string) *Error {
	e.Details = append(e.Details, details...)
	return e
}

// Validation builds a ValidationError with field-level details.
func Validation(message string, details ...string) *Error {
	return &Error{Kind: KindValidation, Message: message, Details: details}
}

// NotFound builds a NotFound error.
func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

// Conflict builds a Conflict error.
func Conflict(format string, args ...any) *Error {
	return New(KindConflict, format, args...)
}

// Integrity builds an IntegrityError.
func Integrity(format string, args ...any) *Error {
	return New(KindIntegrity, format, args...)
}

// Storage wraps an I/O level failure.
func Storage(err error, format string, args ...any) *Error {
	return Wrap(KindStorage, err, format, args...)
}

// Syntax builds a QuerySyntaxError carrying the offending token and column.
func Syntax(token string, column int, format string, args ...any) *Error {
	e := New(KindQuerySyntax, format, args...)
	e.Details = append(e.Details, fmt.Sprintf("token %q at column %d", token, column))
	return e
}

// From extracts an *Error from err, or wraps unknown errors as StorageError.
func From(err error) *Error {
	var re *Error
	if errors.As(err, &re) {
		return re
	}
	return Storage(err, "internal error")
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == kind
}
