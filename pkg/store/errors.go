package store

import "github.com/fazpi-ai/fazpi-qbull/pkg/errors"

// Error codes for store operations.
const (
	CodeConnectFailed = "STORE_CONNECT_FAILED"
	CodeNotReady      = "STORE_NOT_READY"
	CodeNotConnected  = "STORE_NOT_CONNECTED"
	CodeOpFailed      = "STORE_OP_FAILED"
)

// ErrConnectFailed wraps a transport handshake or authentication failure.
func ErrConnectFailed(err error) *errors.AppError {
	return errors.New(CodeConnectFailed, "failed to connect to store", err)
}

// ErrNotReady signals an operation attempted while the client is not Ready.
func ErrNotReady() *errors.AppError {
	return errors.New(CodeNotReady, "store client is not ready", nil)
}

// ErrNotConnected signals SharedStore.Connect was never called (and no
// attempt is in flight) before a delegating call.
func ErrNotConnected() *errors.AppError {
	return errors.New(CodeNotConnected, "shared store has not been connected", nil)
}

// ErrOp wraps any runtime failure from the backing store during an
// operation, except the "group already exists" signal which CreateGroup
// absorbs as success.
func ErrOp(op string, err error) *errors.AppError {
	return errors.New(CodeOpFailed, "store operation failed: "+op, err)
}
