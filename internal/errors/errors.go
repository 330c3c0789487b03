// Package errors defines the coded error type shared by the table engine,
// its storage backends and the CLI.
package errors

import (
	"errors"
	"fmt"
)

// Code classifies an error.
type Code string

const (
	// InvalidArgument is returned for malformed input: an undeclared field, a
	// key field that differs from the key or would change, a bad table name or
	// a schema that disagrees with the stored one.
	InvalidArgument Code = "INVALID_ARGUMENT"
	// KeyExists is returned when an insert collides with a live row for the same key.
	KeyExists Code = "KEY_EXISTS"
	// PermissionDenied is returned when the origin of a write is not authorized.
	PermissionDenied Code = "PERMISSION_DENIED"
	// NotFound is returned when a table or file is unknown.
	NotFound Code = "NOT_FOUND"
	// StorageError is returned when the backing store fails.
	StorageError Code = "STORAGE_ERROR"
	// Internal is returned when an unexpected failure occurs.
	Internal Code = "INTERNAL_ERROR"
)

// Coded is implemented by errors carrying a Code.
type Coded interface {
	error
	Code() Code
	Details() map[string]any
}

// Error is a concrete error with a code, a message and optional details.
//
// Two Errors match with errors.Is when they share code and message, so a
// package level sentinel still matches after With or Wrap returned a copy
// of it.
type Error struct {
	code       Code
	message    string
	details    map[string]any
	wrappedErr error
}

// New creates an Error.
func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// With returns a copy of e carrying the given detail.
func (e *Error) With(key string, value any) *Error {
	c := *e
	c.details = make(map[string]any, len(e.details)+1)
	for k, v := range e.details {
		c.details[k] = v
	}
	c.details[key] = value
	return &c
}

// Wrap returns a copy of e wrapping err.
func (e *Error) Wrap(err error) *Error {
	c := *e
	c.wrappedErr = err
	return &c
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.message
	if len(e.details) != 0 {
		msg = fmt.Sprintf("%s %v", msg, e.details)
	}
	if e.wrappedErr != nil {
		return fmt.Sprintf("%s: %v", msg, e.wrappedErr)
	}
	return msg
}

// Code returns the error code.
func (e *Error) Code() Code {
	return e.code
}

// Details returns additional error details.
func (e *Error) Details() map[string]any {
	return e.details
}

// Unwrap returns the wrapped error if any.
func (e *Error) Unwrap() error {
	return e.wrappedErr
}

// Is reports whether target is an Error with the same code and message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.code == e.code && t.message == e.message
}

// CodeOf returns the code of the first Coded error in err's chain, or
// Internal if there is none.
func CodeOf(err error) Code {
	var c Coded
	if errors.As(err, &c) {
		return c.Code()
	}
	return Internal
}

// Storage wraps a backing store failure.
func Storage(message string, err error) *Error {
	return New(StorageError, message).Wrap(err)
}
