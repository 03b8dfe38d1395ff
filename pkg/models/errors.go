package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies failures so the transport can pick a status code without reading messages.
type ErrorKind string

const (
	KindNotFound       ErrorKind = "NOT_FOUND"
	KindForbidden      ErrorKind = "FORBIDDEN"
	KindConflict       ErrorKind = "CONFLICT"
	KindValidation     ErrorKind = "VALIDATION_ERROR"
	KindStore          ErrorKind = "STORE_ERROR"
	KindPartialCascade ErrorKind = "PARTIAL_CASCADE"
)

// Error is the structured error returned by the store and the services.
type Error struct {
	Kind    ErrorKind
	Entity  string   // "user", "organization", "tasklist", "task"
	Field   string   // offending input field, if any
	IDs     []string // offending ids, if any
	Message string

	// Completed lists the cascade steps applied before a partial failure.
	Completed []string
	// Transient marks store errors worth one retry.
	Transient bool

	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(strings.ToLower(string(e.Kind)))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.IDs) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(e.IDs, ", "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind. An empty Entity on the target matches any entity.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Entity == "" || t.Entity == e.Entity
}

// Sentinels for errors.Is checks.
var (
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrForbidden      = &Error{Kind: KindForbidden}
	ErrConflict       = &Error{Kind: KindConflict}
	ErrValidation     = &Error{Kind: KindValidation}
	ErrStore          = &Error{Kind: KindStore}
	ErrPartialCascade = &Error{Kind: KindPartialCascade}
)

func NotFound(entity, id string) *Error {
	return &Error{Kind: KindNotFound, Entity: entity, IDs: []string{id}, Message: entity + " not found"}
}

func Forbidden(entity, format string, args ...interface{}) *Error {
	return &Error{Kind: KindForbidden, Entity: entity, Message: fmt.Sprintf(format, args...)}
}

func Conflict(entity, field string, ids []string, format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Entity: entity, Field: field, IDs: ids, Message: fmt.Sprintf(format, args...)}
}

func Validation(field, format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: fmt.Sprintf(format, args...)}
}

// StoreFailure wraps a persistence error that is not attributable to caller input.
func StoreFailure(op string, transient bool, err error) *Error {
	return &Error{Kind: KindStore, Message: op, Transient: transient, Err: err}
}

// PartialCascade reports that a multi-record operation stopped after some steps were applied.
func PartialCascade(op, failedStep string, completed []string, err error) *Error {
	return &Error{
		Kind:      KindPartialCascade,
		Field:     failedStep,
		Message:   fmt.Sprintf("%s stopped at %q", op, failedStep),
		Completed: completed,
		Err:       err,
	}
}

// AsError extracts the first *Error in the chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindStore for unclassified errors.
func KindOf(err error) ErrorKind {
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	return KindStore
}

// IsTransient reports whether err is a store error flagged as retryable.
func IsTransient(err error) bool {
	e, ok := AsError(err)
	return ok && e.Kind == KindStore && e.Transient
}
