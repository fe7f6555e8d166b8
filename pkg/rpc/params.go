package rpc

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// Params holds the positional parameters of a call. Wallet methods take
// arrays, e.g. ["0xdigest", "0xaddress"]. A by-name object is accepted as a
// single positional argument so {"url": "..."} and [{"url": "..."}] are equivalent.
type Params []json.RawMessage

// NewParams marshals each argument into a positional parameter.
func NewParams(args ...any) (Params, error) {
	params := make(Params, 0, len(args))
	for i, arg := range args {
		raw, err := json.Marshal(arg)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to marshal param %d", i)
		}
		params = append(params, raw)
	}
	return params, nil
}

func (p *Params) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*p = nil
		return nil
	}

	switch data[0] {
	case '[':
		var list []json.RawMessage
		if err := json.Unmarshal(data, &list); err != nil {
			return errors.Wrap(err, "invalid params")
		}
		*p = list
	case '{':
		*p = Params{append(json.RawMessage(nil), data...)}
	default:
		return errors.New("params must be an array or an object")
	}
	return nil
}

// Len returns the number of positional parameters.
func (p Params) Len() int { return len(p) }

// Translate decodes the parameter at index i into v.
func (p Params) Translate(i int, v any) error {
	if i < 0 || i >= len(p) {
		return Errorf(CodeInvalidParams, "missing param %d", i)
	}
	if err := json.Unmarshal(p[i], v); err != nil {
		return Errorf(CodeInvalidParams, "invalid param %d: %v", i, err)
	}
	return nil
}

// StringAt decodes the parameter at index i as a JSON string.
func (p Params) StringAt(i int) (string, error) {
	var s string
	err := p.Translate(i, &s)
	return s, err
}

// Object decodes the first parameter, or an empty object when there is none.
func (p Params) Object(v any) error {
	if len(p) == 0 {
		return nil
	}
	return p.Translate(0, v)
}
