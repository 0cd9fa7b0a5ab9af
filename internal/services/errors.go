package services

import (
	"errors"
	"net/http"

	"github.com/diewo77/go-assistance/gate"
	"github.com/diewo77/go-assistance/validation"
)

// Kind classifies service errors. A Kind is itself an error so callers can
// write errors.Is(err, services.InsufficientFunds).
type Kind string

const (
	BadRequest        Kind = "bad_request"
	NotFound          Kind = "not_found"
	Unauthorized      Kind = "unauthorized"
	Forbidden         Kind = "forbidden"
	InsufficientFunds Kind = "insufficient_funds"
	InvalidState      Kind = "invalid_state"
	PolicyViolation   Kind = "policy_violation"
	Conflict          Kind = "conflict"
	Internal          Kind = "internal"
)

func (k Kind) Error() string { return string(k) }

var kindStatus = map[Kind]int{
	BadRequest:        http.StatusBadRequest,
	NotFound:          http.StatusNotFound,
	Unauthorized:      http.StatusUnauthorized,
	Forbidden:         http.StatusForbidden,
	InsufficientFunds: http.StatusUnprocessableEntity,
	InvalidState:      http.StatusConflict,
	PolicyViolation:   http.StatusUnprocessableEntity,
	Conflict:          http.StatusConflict,
	Internal:          http.StatusInternalServerError,
}

// Error is returned by every service operation. Reason is a snake_case code
// translated by the i18n catalog.
type Error struct {
	Kind    Kind
	Reason  string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the error kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// HTTPStatus implements httpx.StatusCoder.
func (e *Error) HTTPStatus() int {
	if s, ok := kindStatus[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Code implements httpx.Coder.
func (e *Error) Code() string { return e.Reason }

// ErrorDetails implements httpx.Detailer.
func (e *Error) ErrorDetails() any {
	if len(e.Details) == 0 {
		return nil
	}
	return e.Details
}

func newError(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

func (e *Error) with(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func invalid(v validation.Violations) error {
	if v.Empty() {
		return nil
	}
	e := &Error{Kind: BadRequest, Reason: v.Code(), Err: v, Details: make(map[string]any, len(v))}
	for field, code := range v {
		e.Details[field] = code
	}
	return e
}

// denied converts a gate error into a service error.
func denied(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gate.ErrUnauthorized):
		return &Error{Kind: Unauthorized, Reason: "unauthorized", Err: err}
	case errors.Is(err, gate.ErrForbidden):
		return &Error{Kind: Forbidden, Reason: "forbidden", Err: err}
	}
	return internal(err)
}

func internal(err error) error {
	return &Error{Kind: Internal, Reason: "internal_error", Err: err}
}

// normalize keeps service errors as they are and hides anything else behind
// an Internal error.
func normalize(err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return internal(err)
}

// resultLabel names the outcome of an operation for metrics.
func resultLabel(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return string(se.Kind)
	}
	return string(Internal)
}
