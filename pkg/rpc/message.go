package rpc

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"
)

// Version is the only protocol version the node speaks.
const Version = "2.0"

// Request is a JSON-RPC 2.0 call. A request without an id is a
// notification and gets no response.
//
//	{"jsonrpc":"2.0","id":7,"method":"personal_sign","params":["0x68656c6c6f","0xabc..."]}
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  Params          `json:"params,omitempty"`
}

// NewRequest builds a call with a numeric id.
func NewRequest(id uint64, method string, params Params) Request {
	return Request{
		JSONRPC: Version,
		ID:      json.RawMessage(strconv.FormatUint(id, 10)),
		Method:  method,
		Params:  params,
	}
}

// IsNotification reports whether the request expects no response.
func (r Request) IsNotification() bool {
	return len(r.ID) == 0
}

// Validate checks the envelope. Method-specific params are checked by the handlers.
func (r Request) Validate() error {
	if r.JSONRPC != Version {
		return errors.Errorf("unsupported jsonrpc version %q", r.JSONRPC)
	}
	if r.Method == "" {
		return errors.New("missing method")
	}
	if len(r.ID) > 0 && !validID(r.ID) {
		return errors.New("id must be a string, a number or null")
	}
	return nil
}

func validID(id json.RawMessage) bool {
	id = bytes.TrimSpace(id)
	if len(id) == 0 {
		return false
	}
	switch id[0] {
	case '"':
		var s string
		return json.Unmarshal(id, &s) == nil
	case 'n':
		return bytes.Equal(id, []byte("null"))
	default:
		var n json.Number
		return json.Unmarshal(id, &n) == nil
	}
}

// Response answers a Request. Exactly one of Result and Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// NewResultResponse marshals result into a successful response for id.
func NewResultResponse(id json.RawMessage, result any) (Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return Response{}, errors.Wrap(err, "failed to marshal result")
	}
	return Response{JSONRPC: Version, ID: normalizeID(id), Result: raw}, nil
}

// NewErrorResponse builds a failed response for id. A nil id is sent as null,
// as required when the request id could not be read.
func NewErrorResponse(id json.RawMessage, rpcErr *Error) Response {
	return Response{JSONRPC: Version, ID: normalizeID(id), Error: rpcErr}
}

// Err returns the error carried by the response, or nil.
func (r Response) Err() error {
	if r.Error == nil {
		return nil
	}
	return r.Error
}

// Decode unmarshals the result into v.
func (r Response) Decode(v any) error {
	if r.Error != nil {
		return r.Error
	}
	if len(r.Result) == 0 {
		return errors.New("response has no result")
	}
	return errors.Wrap(json.Unmarshal(r.Result, v), "failed to decode result")
}

func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}

// Notification is a server-initiated message, such as an EIP-1193 chainChanged event.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  Params `json:"params"`
}

// NewNotification builds a notification with positional params.
func NewNotification(method string, args ...any) (Notification, error) {
	params, err := NewParams(args...)
	if err != nil {
		return Notification{}, err
	}
	return Notification{JSONRPC: Version, Method: method, Params: params}, nil
}

// envelope is what a client reads off the wire before it knows whether the
// message is a response or a notification.
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  Params          `json:"params"`
	Result  json.RawMessage `json:"result"`
	Error   *Error          `json:"error"`
}

func (e envelope) isNotification() bool {
	return e.Method != "" && (len(e.ID) == 0 || bytes.Equal(e.ID, []byte("null")))
}

func (e envelope) response() *Response {
	return &Response{JSONRPC: e.JSONRPC, ID: e.ID, Result: e.Result, Error: e.Error}
}

func (e envelope) notification() *Notification {
	return &Notification{JSONRPC: e.JSONRPC, Method: e.Method, Params: e.Params}
}
