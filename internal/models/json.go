package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ObjectHook may replace a freshly decoded JSON object with another value.
type ObjectHook func(m *Map) Value

// ParseJSON decodes a single JSON document into a Value, preserving object key order
// and the integer/float distinction of numbers.
func ParseJSON(data []byte) (Value, error) {
	return DecodeJSON(bytes.NewReader(data), nil)
}

// DecodeJSON decodes a single JSON document from r. When hook is non-nil it is applied
// to every object after its members have been decoded.
func DecodeJSON(r io.Reader, hook ObjectHook) (Value, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	v, err := decodeValue(dec, hook)
	if err != nil {
		return Null(), err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Null(), errors.New("unexpected data after JSON document")
	}
	return v, nil
}

func decodeValue(dec *json.Decoder, hook ObjectHook) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Null(), fmt.Errorf("reading JSON token: %w", err)
	}
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		return NumberValue(t.String())
	case string:
		return String(t), nil
	case json.Delim:
		switch t {
		case '[':
			list := []Value{}
			for dec.More() {
				e, err := decodeValue(dec, hook)
				if err != nil {
					return Null(), err
				}
				list = append(list, e)
			}
			if _, err := dec.Token(); err != nil {
				return Null(), fmt.Errorf("closing JSON array: %w", err)
			}
			return List(list...), nil
		case '{':
			m := NewMap()
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return Null(), fmt.Errorf("reading JSON key: %w", err)
				}
				key, ok := kt.(string)
				if !ok {
					return Null(), fmt.Errorf("unexpected JSON key token %v", kt)
				}
				e, err := decodeValue(dec, hook)
				if err != nil {
					return Null(), err
				}
				m.Set(key, e)
			}
			if _, err := dec.Token(); err != nil {
				return Null(), fmt.Errorf("closing JSON object: %w", err)
			}
			if hook != nil {
				return hook(m), nil
			}
			return MapValue(m), nil
		}
	}
	return Null(), fmt.Errorf("unexpected JSON token %v", tok)
}
