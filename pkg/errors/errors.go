// Package errors provides structured error handling for the system.
//
// It defines a standard AppError type that includes:
//   - Error Code (standardized strings like NOT_FOUND, INTERNAL)
//   - Message (human-readable description)
//   - Underlying Error (chaining)
package errors

import (
	"errors"
	"fmt"
)

// Standard error codes shared across packages. Package-specific taxonomies
// (pkg/store, pkg/queue) define their own codes alongside these.
const (
	CodeNotFound        = "NOT_FOUND"
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeInternal        = "INTERNAL"
)

// AppError is the structured error type used at every package boundary.
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap lets errors.Is/errors.As see through to the underlying cause.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New builds an AppError with the given code, message, and optional cause.
func New(code, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Wrap builds an internal AppError around err with the given message.
func Wrap(err error, message string) *AppError {
	return &AppError{Code: CodeInternal, Message: message, Err: err}
}

// Is reports whether err is an AppError carrying the given code.
func Is(err error, code string) bool {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code == code
	}
	return false
}
