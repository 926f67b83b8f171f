package queue

import "github.com/fazpi-ai/fazpi-qbull/pkg/errors"

// Error codes for publisher/consumer boundary validation.
const (
	CodeInvalidArgument = errors.CodeInvalidArgument
)

// ErrInvalidArgument reports a validation failure at the library boundary,
// surfaced synchronously before any store I/O.
func ErrInvalidArgument(message string) *errors.AppError {
	return errors.New(CodeInvalidArgument, message, nil)
}
