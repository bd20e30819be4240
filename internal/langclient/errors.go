package langclient

import (
	"errors"
	"fmt"
)

// Errors returned by the client and transport.
var (
	// ErrAlreadyStarted is returned by a second Start on the same client.
	ErrAlreadyStarted = errors.New("language client already started")

	// ErrNotStarted is returned by Stop before a successful Start.
	ErrNotStarted = errors.New("language client not started")

	// ErrDisposed is returned by Start after Dispose.
	ErrDisposed = errors.New("language client disposed")

	// ErrClosed is returned by transport calls after Close.
	ErrClosed = errors.New("transport closed")

	// ErrServerExited is returned by pending calls when the server process exits.
	ErrServerExited = errors.New("language server exited")

	// ErrHandshakeTimeout is returned by Start when initialize is not answered in time.
	ErrHandshakeTimeout = errors.New("initialize handshake timed out")

	// ErrShutdownTimeout is returned by Stop when the process outlives the shutdown timeout.
	ErrShutdownTimeout = errors.New("language server did not exit after shutdown")
)

// RPCError represents a JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("rpc error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// JSON-RPC and LSP error codes used by the client.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodeServerNotInitialized = -32002
	CodeRequestFailed        = -32803
)
