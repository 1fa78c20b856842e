// Package apperr defines the error taxonomy surfaced at the orchestration boundary.
package apperr

import (
	"errors"
	"fmt"
)

// Code is the machine-readable error kind.
type Code string

const (
	CodeAmbiguousRequest  Code = "ambiguous_request"
	CodeNoWorkerAvailable Code = "no_worker_available"
	CodeTimeout           Code = "timeout"
	CodeWorkerError       Code = "worker_error"
	CodeJobNotFound       Code = "job_not_found"
	CodeResultNotReady    Code = "result_not_ready"
	CodeInvalidArgument   Code = "invalid_argument"
	CodeInternal          Code = "internal"
)

// Error is a structured failure with a kind and a human-readable message.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same code, so errors.Is(err, apperr.Timeout("")) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func AmbiguousRequest(message string) *Error {
	return &Error{Code: CodeAmbiguousRequest, Message: message}
}

func NoWorkerAvailable(message string) *Error {
	return &Error{Code: CodeNoWorkerAvailable, Message: message}
}

func Timeout(message string, cause error) *Error {
	return &Error{Code: CodeTimeout, Message: message, Cause: cause}
}

func WorkerError(message string, cause error) *Error {
	return &Error{Code: CodeWorkerError, Message: message, Cause: cause}
}

func JobNotFound(message string) *Error {
	return &Error{Code: CodeJobNotFound, Message: message}
}

func ResultNotReady(message string) *Error {
	return &Error{Code: CodeResultNotReady, Message: message}
}

func InvalidArgument(message string) *Error {
	return &Error{Code: CodeInvalidArgument, Message: message}
}

func Internal(message string, cause error) *Error {
	return &Error{Code: CodeInternal, Message: message, Cause: cause}
}

// As extracts the first *Error in err's chain.
func As(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed, true
	}
	return nil, false
}

// CodeOf returns the code of err, or CodeInternal for foreign errors.
func CodeOf(err error) Code {
	if typed, ok := As(err); ok {
		return typed.Code
	}
	return CodeInternal
}

// Wrap converts an arbitrary error into an *Error, keeping existing codes.
func Wrap(err error, message string) *Error {
	if err == nil {
		return nil
	}
	if typed, ok := As(err); ok {
		return typed
	}
	return Internal(message, err)
}
