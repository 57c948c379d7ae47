package lsptypes

import (
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/exp/jsonrpc2"
)

// Errors returned by processes, pools and sessions.
var (
	// ErrProcessExited indicates the server process terminated while work
	// was outstanding. Not recoverable for that process; a pooled process
	// is retired on release.
	ErrProcessExited = errors.New("lsp process exited")

	// ErrTimeout indicates no response or notification arrived within the
	// caller's deadline. The outstanding registration has been removed; a
	// late response is discarded.
	ErrTimeout = errors.New("deadline exceeded waiting for lsp server")

	// ErrPoolExhausted indicates no process became available within the
	// acquisition deadline.
	ErrPoolExhausted = errors.New("process pool exhausted")

	// ErrPoolClosed indicates the pool has been shut down.
	ErrPoolClosed = errors.New("process pool closed")

	// ErrSessionClosed indicates the session has been closed.
	ErrSessionClosed = errors.New("session closed")

	// ErrNotSupported indicates the server does not declare the capability
	// required by the requested method.
	ErrNotSupported = errors.New("method not supported by server")
)

// https://microsoft.github.io/language-server-protocol/specifications/lsp/3.17/specification/#errorCodes
var (
	ErrParse            = jsonrpc2.ErrParse
	ErrInvalidRequest   = jsonrpc2.ErrInvalidRequest
	ErrMethodNotFound   = jsonrpc2.ErrMethodNotFound
	ErrInvalidParams    = jsonrpc2.ErrInvalidParams
	ErrUnknown          = jsonrpc2.ErrUnknown
	ErrInternal         = jsonrpc2.ErrInternal
	ErrServerOverloaded = jsonrpc2.ErrServerOverloaded
)

var canonicalErrors = map[int64]error{
	-32700: ErrParse,
	-32600: ErrInvalidRequest,
	-32601: ErrMethodNotFound,
	-32602: ErrInvalidParams,
	-32603: ErrInternal,
	-32000: ErrServerOverloaded,
	-32001: ErrUnknown,
}

// ResponseError is a JSON-RPC error object returned by the server. It is
// scoped to the single call that triggered it and never affects sibling
// calls on the same process.
type ResponseError struct {
	Code    int64           `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s (%d)", e.Message, e.Code)
}

// Is reports whether the error's code matches one of the canonical JSON-RPC
// error values, so errors.Is(err, ErrMethodNotFound) works on responses.
func (e *ResponseError) Is(target error) bool {
	canonical, ok := canonicalErrors[e.Code]
	return ok && canonical == target
}

// FramingError is a malformed header or body on the wire. A fatal framing
// error means stream alignment is lost and the connection cannot be trusted;
// a non-fatal one is scoped to a single message.
type FramingError struct {
	msg   string
	fatal bool
	err   error
}

func (e *FramingError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("framing: %s: %v", e.msg, e.err)
	}
	return "framing: " + e.msg
}

func (e *FramingError) Unwrap() error { return e.err }

// Fatal reports whether stream alignment is lost.
func (e *FramingError) Fatal() bool { return e.fatal }
