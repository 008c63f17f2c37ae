// Package errors defines the typed error kinds returned by the approval engine.
// Every failure surfaced by a service carries one of the Code values below so the
// HTTP and gRPC boundaries can map it without inspecting message text.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Code classifies an error.
type Code string

const (
	ErrCodeValidation      Code = "VALIDATION_ERROR"
	ErrCodeNotFound        Code = "NOT_FOUND"
	ErrCodePermission      Code = "PERMISSION_DENIED"
	ErrCodeState           Code = "STATE_ERROR"
	ErrCodeConflict        Code = "CONFLICT"
	ErrCodeUnauthenticated Code = "UNAUTHENTICATED"
	ErrCodeInternal        Code = "INTERNAL"
)

// Error is the engine's error type.
type Error struct {
	Code    Code
	Message string
	Field   string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by code, so errors.Is(err, &Error{Code: ErrCodeNotFound}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New creates an error with the given code.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error. If err already
// carries a code it is returned unchanged.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return err
	}
	return &Error{Code: code, Message: message, Err: err}
}

// NotFound reports a missing resource.
func NotFound(resource string, id any) *Error {
	return &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s %v not found", resource, id)}
}

// InvalidInput reports a malformed or out-of-range input field.
func InvalidInput(field, message string) *Error {
	return &Error{Code: ErrCodeValidation, Field: field, Message: message}
}

// Forbidden reports that the caller may not perform the operation.
func Forbidden(message string) *Error {
	return &Error{Code: ErrCodePermission, Message: message}
}

// InvalidState reports an operation against a resource in the wrong state.
func InvalidState(message string) *Error {
	return &Error{Code: ErrCodeState, Message: message}
}

// Conflict reports a lost race on a uniqueness constraint.
func Conflict(message string) *Error {
	return &Error{Code: ErrCodeConflict, Message: message}
}

// Unauthenticated reports a missing or invalid credential.
func Unauthenticated(message string) *Error {
	return &Error{Code: ErrCodeUnauthenticated, Message: message}
}

// CodeOf returns the code carried by err, or ErrCodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// Message returns the client-safe message for err. Internal errors never leak
// their cause.
func Message(err error) string {
	var e *Error
	if !stderrors.As(err, &e) {
		return "internal error"
	}
	if e.Code == ErrCodeInternal {
		return e.Message
	}
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func IsNotFound(err error) bool   { return CodeOf(err) == ErrCodeNotFound }
func IsValidation(err error) bool { return CodeOf(err) == ErrCodeValidation }
func IsPermission(err error) bool { return CodeOf(err) == ErrCodePermission }
func IsState(err error) bool      { return CodeOf(err) == ErrCodeState }
func IsConflict(err error) bool   { return CodeOf(err) == ErrCodeConflict }
