package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Map is an insertion-ordered mapping from field name to Value.
// A nil *Map behaves as an empty, read-only map.
type Map struct {
	om *orderedmap.OrderedMap[string, Value]
}

// NewMap returns an empty map.
func NewMap() *Map {
	return &Map{om: orderedmap.New[string, Value]()}
}

// MapOf builds a map from alternating key/value arguments. It panics on a malformed
// argument list and is intended for literals in tests and fixtures.
func MapOf(kv ...any) *Map {
	if len(kv)%2 != 0 {
		panic("models.MapOf: odd number of arguments")
	}
	m := NewMap()
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			panic(fmt.Sprintf("models.MapOf: key %v is not a string", kv[i]))
		}
		v, err := FromAny(kv[i+1])
		if err != nil {
			panic(fmt.Sprintf("models.MapOf: %v", err))
		}
		m.Set(key, v)
	}
	return m
}

// MapFromAny converts a decoded map[string]any. Keys are sorted, as Go maps carry no order.
func MapFromAny(src map[string]any) (*Map, error) {
	keys := make([]string, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	m := NewMap()
	for _, k := range keys {
		v, err := FromAny(src[k])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		m.Set(k, v)
	}
	return m, nil
}

// Len returns the number of entries.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return m.om.Len()
}

// Get returns the value stored under key.
func (m *Map) Get(key string) (Value, bool) {
	if m == nil {
		return Null(), false
	}
	return m.om.Get(key)
}

// Value returns the value stored under key, or null.
func (m *Map) Value(key string) Value {
	v, _ := m.Get(key)
	return v
}

// Has reports whether key is present.
func (m *Map) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Set stores v under key. A new key is appended; an existing key keeps its position.
func (m *Map) Set(key string, v Value) {
	m.om.Set(key, v)
}

// SetDefault stores v under key only if key is absent, and returns the stored value.
func (m *Map) SetDefault(key string, v Value) Value {
	if cur, ok := m.Get(key); ok {
		return cur
	}
	m.Set(key, v)
	return v
}

// Delete removes key.
func (m *Map) Delete(key string) {
	if m == nil {
		return
	}
	m.om.Delete(key)
}

// Keys returns the keys in insertion order.
func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	keys := make([]string, 0, m.om.Len())
	for p := m.om.Oldest(); p != nil; p = p.Next() {
		keys = append(keys, p.Key)
	}
	return keys
}

// Range calls fn for every entry in insertion order until fn returns false.
func (m *Map) Range(fn func(key string, v Value) bool) {
	if m == nil {
		return
	}
	for p := m.om.Oldest(); p != nil; p = p.Next() {
		if !fn(p.Key, p.Value) {
			return
		}
	}
}

// SortKeys reorders the entries by key.
func (m *Map) SortKeys() {
	if m.Len() < 2 {
		return
	}
	keys := m.Keys()
	sort.Strings(keys)
	sorted := orderedmap.New[string, Value](len(keys))
	for _, k := range keys {
		v, _ := m.om.Get(k)
		sorted.Set(k, v)
	}
	m.om = sorted
}

// Clone returns a shallow copy: nested maps and lists are shared.
func (m *Map) Clone() *Map {
	out := NewMap()
	m.Range(func(k string, v Value) bool {
		out.Set(k, v)
		return true
	})
	return out
}

// Project returns a shallow copy restricted to fields, in the order given.
// Missing fields are omitted.
func (m *Map) Project(fields []string) *Map {
	out := NewMap()
	for _, f := range fields {
		if v, ok := m.Get(f); ok {
			out.Set(f, v)
		}
	}
	return out
}

// Equal reports deep equality ignoring key order.
func (m *Map) Equal(o *Map) bool {
	if m.Len() != o.Len() {
		return false
	}
	equal := true
	m.Range(func(k string, v Value) bool {
		ov, ok := o.Get(k)
		if !ok || !v.Equal(ov) {
			equal = false
		}
		return equal
	})
	return equal
}

// ToAny converts the map into a plain map[string]any.
func (m *Map) ToAny() map[string]any {
	out := make(map[string]any, m.Len())
	m.Range(func(k string, v Value) bool {
		out[k] = v.ToAny()
		return true
	})
	return out
}

// MarshalJSON writes the entries in insertion order.
func (m *Map) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	var err error
	m.Range(func(k string, v Value) bool {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		var kb, vb []byte
		if kb, err = json.Marshal(k); err != nil {
			return false
		}
		if vb, err = v.MarshalJSON(); err != nil {
			return false
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
		return true
	})
	if err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON parses a JSON object, preserving key order.
func (m *Map) UnmarshalJSON(data []byte) error {
	v, err := ParseJSON(data)
	if err != nil {
		return err
	}
	parsed, ok := v.AsMap()
	if !ok {
		return fmt.Errorf("expected JSON object, got %s", v.Kind())
	}
	m.om = parsed.om
	return nil
}

// DeepCopy returns a copy that shares nothing with m.
func (m *Map) DeepCopy() *Map {
	if m == nil {
		return nil
	}
	out := NewMap()
	m.Range(func(k string, v Value) bool {
		out.Set(k, v.DeepCopy())
		return true
	})
	return out
}
