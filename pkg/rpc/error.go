package rpc

import (
	"fmt"

	"github.com/pkg/errors"
)

// JSON-RPC 2.0 codes and the EIP-1193 provider codes used by the node.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeServerError    = -32000

	CodeUserRejected      = 4001
	CodeUnauthorized      = 4100
	CodeUnsupportedMethod = 4200
	CodeDisconnected      = 4900
)

// Dialer errors.
var (
	ErrAlreadyConnected  = errors.New("already connected")
	ErrNotConnected      = errors.New("not connected to server")
	ErrConnectionTimeout = errors.New("websocket connection timeout")
	ErrReadingMessage    = errors.New("error reading message")
	ErrNilRequest        = errors.New("nil request")
	ErrMarshalingRequest = errors.New("error marshaling request")
	ErrSendingRequest    = errors.New("error sending request")
	ErrNoResponse        = errors.New("no response received")
	ErrSendingPing       = errors.New("error sending ping")
	ErrDialingWebsocket  = errors.New("error dialing websocket server")
)

// Error is a JSON-RPC error object. Its message reaches the client as is,
// so it must not carry internal details. Handlers return plain errors for
// anything the client should not see and Context.Fail replaces them with a
// fallback message.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Errorf creates a client-facing error with the given code.
//
//	return rpc.Errorf(rpc.CodeInvalidParams, "expected %d params", 2)
func Errorf(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithData returns a copy of e carrying data.
func (e *Error) WithData(data any) *Error {
	c := *e
	c.Data = data
	return &c
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}
