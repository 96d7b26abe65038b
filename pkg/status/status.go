// Package status defines the error taxonomy shared by all canlink packages.
//
// Every fallible operation returns an error carrying a Code. Callers compare
// against the sentinel errors with errors.Is, which matches on the code only,
// so a detailed error like Codef(ResourceExhausted, "fifo full") is still
// errors.Is(err, ErrResourceExhausted).
package status

import (
	"errors"
	"fmt"
)

// Code classifies an error.
type Code int

// Error codes.
const (
	OK Code = iota
	Unknown
	InvalidArgs
	ResourceExhausted
	Uninitialized
	Timeout
	Internal
	Unreachable
)

var codeNames = [...]string{
	OK:                "ok",
	Unknown:           "unknown",
	InvalidArgs:       "invalid args",
	ResourceExhausted: "resource exhausted",
	Uninitialized:     "uninitialized",
	Timeout:           "timeout",
	Internal:          "internal",
	Unreachable:       "unreachable",
}

// String implements fmt.Stringer.
func (c Code) String() string {
	if c >= 0 && int(c) < len(codeNames) {
		return codeNames[c]
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Error is an error with a Code.
type Error struct {
	Code Code
	Msg  string
}

// Error implements error.
func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Code.String()
	}
	return e.Code.String() + ": " + e.Msg
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

var (
	// ErrUnknown indicates an unclassified failure, e.g. nothing matched a lookup.
	ErrUnknown = &Error{Code: Unknown}
	// ErrInvalidArgs indicates bad arguments.
	ErrInvalidArgs = &Error{Code: InvalidArgs}
	// ErrResourceExhausted indicates a bounded resource is full.
	ErrResourceExhausted = &Error{Code: ResourceExhausted}
	// ErrUninitialized indicates an operation before Init.
	ErrUninitialized = &Error{Code: Uninitialized}
	// ErrTimeout indicates a deadline passed.
	ErrTimeout = &Error{Code: Timeout}
	// ErrInternal indicates an invariant violation.
	ErrInternal = &Error{Code: Internal}
	// ErrUnreachable indicates a code path that should never run.
	ErrUnreachable = &Error{Code: Unreachable}
)

// Codef creates an Error with a formatted message.
func Codef(code Code, format string, args ...interface{}) error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the Code from err. nil maps to OK and foreign errors to Unknown.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Unknown
}
