// Package domainerrors defines coded errors returned by services.
//
// Stores and infrastructure return sentinel errors (pkg/platform/sentinel);
// services translate them into a Code here so transports can map them to
// status codes without inspecting infrastructure details.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error.
type Code string

const (
	CodeBadRequest        Code = "bad_request"
	CodeInvalidInput      Code = "invalid_input"
	CodeNotFound          Code = "not_found"
	CodeDimensionMismatch Code = "dimension_mismatch"
	CodeComparisonFailure Code = "comparison_failure"
	CodeStorageFailure    Code = "storage_failure"
	CodeTimeout           Code = "timeout"
	CodeCanceled          Code = "canceled"
	CodeInternal          Code = "internal_error"
)

// retryableCodes lists codes where repeating the whole call may succeed.
var retryableCodes = map[Code]bool{
	CodeComparisonFailure: true,
	CodeStorageFailure:    true,
	CodeTimeout:           true,
}

// Error is a coded domain error. Err holds the wrapped cause, if any.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a coded error without a cause.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to err. A nil err yields nil.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// CodeOf returns the outermost code in err's chain, or CodeInternal when the
// chain carries no domain error.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// HasCode reports whether the outermost domain error in err's chain has code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// Is is an alias of HasCode kept for handler readability.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// Retryable reports whether the caller may retry the whole operation.
func Retryable(err error) bool {
	var de *Error
	if errors.As(err, &de) {
		return retryableCodes[de.Code]
	}
	return false
}
