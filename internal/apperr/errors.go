package apperr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies a failure so callers can decide whether to retry and how to report it.
type Kind string

const (
	KindNotFound               Kind = "NOT_FOUND"
	KindInsufficientStock      Kind = "INSUFFICIENT_STOCK"
	KindInsufficientCashback   Kind = "INSUFFICIENT_CASHBACK"
	KindExcessiveDiscount      Kind = "EXCESSIVE_DISCOUNT"
	KindInvalidStateTransition Kind = "INVALID_STATE_TRANSITION"
	KindValidation             Kind = "VALIDATION_ERROR"
	KindConflict               Kind = "CONFLICT"
	KindUnauthorized           Kind = "UNAUTHORIZED"
	KindForbidden              Kind = "FORBIDDEN"
	KindInternal               Kind = "INTERNAL_ERROR"
)

// Error is the single error type returned across component boundaries.
type Error struct {
	Kind    Kind
	Message string
	// Fields holds field-level validation messages.
	Fields map[string]string
	// Details holds structured values such as requested/allowed amounts.
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " [%s: %s]", k, e.Fields[k])
		}
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the caller may retry the request once.
func (e *Error) Retryable() bool { return e.Kind == KindConflict }

// WithDetail attaches a structured detail and returns e for chaining.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return New(KindConflict, format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return New(KindForbidden, format, args...)
}

func Unauthorized(format string, args ...any) *Error {
	return New(KindUnauthorized, format, args...)
}

// Validation builds a validation error from field -> message pairs.
func Validation(fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: "request is invalid", Fields: fields}
}

// InvalidField is shorthand for a single-field validation error.
func InvalidField(field, msg string) *Error {
	return Validation(map[string]string{field: msg})
}

// Internal wraps an unexpected fault.
func Internal(err error, format string, args ...any) *Error {
	return &Error{Kind: KindInternal, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind of err, defaulting to KindInternal for foreign errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// As returns the *Error inside err, if any.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
