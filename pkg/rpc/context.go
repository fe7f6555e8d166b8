package rpc

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
)

// Handler processes a call. Middleware calls c.Next to run the rest of the chain.
type Handler func(c *Context)

// SendNotificationFunc pushes a notification to one connection.
type SendNotificationFunc func(method string, args ...any)

// Context carries one call through its handler chain.
type Context struct {
	Context context.Context
	// UserID is the authenticated identity of the connection, empty if none.
	// A handler that changes it re-authenticates the connection.
	UserID  string
	Request Request
	// Response is filled by Succeed or Fail.
	Response Response
	// Storage lives as long as the connection.
	Storage *SafeStorage

	handlers []Handler
}

// Next runs the next handler in the chain, if any.
func (c *Context) Next() {
	if len(c.handlers) == 0 {
		return
	}

	handler := c.handlers[0]
	c.handlers = c.handlers[1:]
	handler(c)
}

// Succeed sets result as the call's result.
func (c *Context) Succeed(result any) {
	res, err := NewResultResponse(c.Request.ID, result)
	if err != nil {
		c.Fail(err, "failed to encode result")
		return
	}
	c.Response = res
}

// Fail sets an error response. An *Error anywhere in err's chain is sent
// as is; any other error is replaced by fallbackMessage with
// CodeInternalError, so internal details never reach the client.
func (c *Context) Fail(err error, fallbackMessage string) {
	var rpcErr *Error
	if !errors.As(err, &rpcErr) {
		if fallbackMessage == "" {
			fallbackMessage = defaultNodeErrorMessage
		}
		rpcErr = &Error{Code: CodeInternalError, Message: fallbackMessage}
	}

	c.Response = NewErrorResponse(c.Request.ID, rpcErr)
}

// Failed reports whether the response carries an error.
func (c *Context) Failed() bool {
	return c.Response.Error != nil
}

// GetRawResponse encodes the response. A chain that set nothing produces an
// internal error.
func (c *Context) GetRawResponse() ([]byte, error) {
	if c.Response.Error == nil && len(c.Response.Result) == 0 {
		c.Fail(nil, "internal server error: no response from handler")
	}

	raw, err := json.Marshal(c.Response)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal response")
	}
	return raw, nil
}

// SafeStorage is a per-connection key-value store safe for concurrent use.
type SafeStorage struct {
	mu      sync.RWMutex
	storage map[string]any
}

func NewSafeStorage() *SafeStorage {
	return &SafeStorage{storage: make(map[string]any)}
}

func (s *SafeStorage) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.storage[key] = value
}

func (s *SafeStorage) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.storage[key]
	return value, ok
}
