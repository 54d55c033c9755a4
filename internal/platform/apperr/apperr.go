// Package apperr defines the error taxonomy shared by the store, the intake
// pipeline and the HTTP layer, and renders it as JSON error bodies.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies an error for callers and for HTTP status mapping.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindUnavailable  Kind = "unavailable"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
)

// FieldError describes a single field-level validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is the concrete error type carried through the application.
type Error struct {
	Kind    Kind
	Message string
	// Field names the colliding field for conflicts.
	Field  string
	Fields []FieldError
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Status maps the error kind to an HTTP status code.
func (e *Error) Status() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Validation builds a validation error. When field errors are supplied and
// msg is empty, the message lists the failing fields.
func Validation(msg string, fields ...FieldError) *Error {
	if msg == "" {
		names := make([]string, 0, len(fields))
		for _, f := range fields {
			names = append(names, f.Field)
		}
		msg = "validation failed: " + strings.Join(names, ", ")
	}
	return &Error{Kind: KindValidation, Message: msg, Fields: fields}
}

// NotFound reports a missing entity.
func NotFound(entity, id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s not found: %s", entity, id)}
}

// Conflict reports a uniqueness violation on field.
func Conflict(field, value string) *Error {
	return &Error{
		Kind:    KindConflict,
		Field:   field,
		Message: fmt.Sprintf("%s already exists: %s", field, value),
	}
}

// Unavailable wraps a storage failure.
func Unavailable(op string, err error) *Error {
	return &Error{Kind: KindUnavailable, Message: op, Err: err}
}

func Unauthorized(msg string) *Error {
	return &Error{Kind: KindUnauthorized, Message: msg}
}

func Forbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Message: msg}
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

func IsNotFound(err error) bool    { return KindOf(err) == KindNotFound }
func IsConflict(err error) bool    { return KindOf(err) == KindConflict }
func IsValidation(err error) bool  { return KindOf(err) == KindValidation }
func IsUnavailable(err error) bool { return KindOf(err) == KindUnavailable }

// ConflictField returns the colliding field of a conflict error.
func ConflictField(err error) string {
	var ae *Error
	if errors.As(err, &ae) && ae.Kind == KindConflict {
		return ae.Field
	}
	return ""
}
