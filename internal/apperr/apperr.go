// Package apperr carries the error taxonomy returned across the service boundary.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers
type Kind int

const (
	Internal Kind = iota
	Validation
	Auth
	RateLimited
	AccountLocked
	AdmissionRejected
	NotFound
	Forbidden
	Conflict
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation_error"
	case Auth:
		return "auth_error"
	case RateLimited:
		return "rate_limit_exceeded"
	case AccountLocked:
		return "account_locked"
	case AdmissionRejected:
		return "admission_rejected"
	case NotFound:
		return "not_found"
	case Forbidden:
		return "forbidden"
	case Conflict:
		return "conflict"
	}
	return "internal_error"
}

// Reason is one tagged admission failure
type Reason struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error is a structured, user-facing error
type Error struct {
	Kind    Kind
	Message string
	Fields  map[string]string
	Reasons []Reason
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus maps the kind to a response status
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case Validation:
		return http.StatusBadRequest
	case Auth:
		return http.StatusUnauthorized
	case RateLimited:
		return http.StatusTooManyRequests
	case AccountLocked, Forbidden:
		return http.StatusForbidden
	case AdmissionRejected:
		return http.StatusUnprocessableEntity
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// New builds an Error of the given kind
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind around err
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Invalid builds a validation error with field-level detail
func Invalid(fields map[string]string) *Error {
	return &Error{Kind: Validation, Message: "validation failed", Fields: fields}
}

// Rejected builds an admission error carrying every reason
func Rejected(reasons []Reason) *Error {
	return &Error{Kind: AdmissionRejected, Message: "check-in rejected", Reasons: reasons}
}

// From extracts an *Error from err, defaulting to Internal
func From(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return &Error{Kind: Internal, Message: "internal server error", Err: err}
}

// Is reports whether err carries the given kind
func Is(err error, kind Kind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == kind
}
