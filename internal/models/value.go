package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindTime
	KindList
	KindMap
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindTime:
		return "time"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Value is one field value of a record. It is a tagged union: the zero Value is null.
// Maps are held by pointer, so copying a Value that holds a map shares the map.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	t    time.Time
	list []Value
	m    *Map
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int wraps an integer.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float wraps a floating point number.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Time wraps a date/time. Values are naive wall-clock datetimes with microsecond
// precision; they are normalised to UTC.
func Time(t time.Time) Value {
	return Value{kind: KindTime, t: t.UTC().Truncate(time.Microsecond)}
}

// List wraps an ordered list of values.
func List(vs ...Value) Value {
	if vs == nil {
		vs = []Value{}
	}
	return Value{kind: KindList, list: vs}
}

// MapValue wraps a map. A nil map yields the null value.
func MapValue(m *Map) Value {
	if m == nil {
		return Null()
	}
	return Value{kind: KindMap, m: m}
}

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean held by v.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsInt returns the integer held by v.
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

// AsFloat returns the float held by v. Integers are widened.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	default:
		return 0, false
	}
}

// AsString returns the string held by v.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsTime returns the time held by v.
func (v Value) AsTime() (time.Time, bool) { return v.t, v.kind == KindTime }

// AsList returns the list held by v.
func (v Value) AsList() ([]Value, bool) { return v.list, v.kind == KindList }

// AsMap returns the map held by v.
func (v Value) AsMap() (*Map, bool) { return v.m, v.kind == KindMap }

// Truthy mirrors the "empty means absent" checks used when scanning record fields.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNull:
		return false
	case KindBool:
		return v.b
	case KindInt:
		return v.i != 0
	case KindFloat:
		return v.f != 0
	case KindString:
		return v.s != ""
	case KindList:
		return len(v.list) > 0
	case KindMap:
		return v.m.Len() > 0
	default:
		return true
	}
}

// Equal reports deep equality. Map key order is ignored; int and float are distinct kinds.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindFloat:
		if math.IsNaN(v.f) && math.IsNaN(o.f) {
			return true
		}
		return v.f == o.f
	case KindString:
		return v.s == o.s
	case KindTime:
		return v.t.Equal(o.t)
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		return v.m.Equal(o.m)
	}
	return false
}

// ToAny converts v into plain Go values: nil, bool, int64, float64, string, time.Time,
// []any and map[string]any.
func (v Value) ToAny() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindTime:
		return v.t
	case KindList:
		out := make([]any, len(v.list))
		for i := range v.list {
			out[i] = v.list[i].ToAny()
		}
		return out
	case KindMap:
		return v.m.ToAny()
	default:
		return nil
	}
}

// FromAny converts plain Go values (as produced by decoders) into a Value.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case *Map:
		return MapValue(t), nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(int64(t)), nil
	case int8:
		return Int(int64(t)), nil
	case int16:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint:
		return uintValue(uint64(t))
	case uint8:
		return Int(int64(t)), nil
	case uint16:
		return Int(int64(t)), nil
	case uint32:
		return Int(int64(t)), nil
	case uint64:
		return uintValue(t)
	case float32:
		return Float(float64(t)), nil
	case float64:
		return Float(t), nil
	case json.Number:
		return NumberValue(string(t))
	case string:
		return String(t), nil
	case []byte:
		return String(string(t)), nil
	case time.Time:
		return Time(t), nil
	case []any:
		out := make([]Value, len(t))
		for i := range t {
			e, err := FromAny(t[i])
			if err != nil {
				return Null(), err
			}
			out[i] = e
		}
		return List(out...), nil
	case []string:
		out := make([]Value, len(t))
		for i := range t {
			out[i] = String(t[i])
		}
		return List(out...), nil
	case map[string]any:
		m, err := MapFromAny(t)
		if err != nil {
			return Null(), err
		}
		return MapValue(m), nil
	case map[any]any:
		m := NewMap()
		for k, e := range t {
			ks, ok := k.(string)
			if !ok {
				ks = fmt.Sprint(k)
			}
			ev, err := FromAny(e)
			if err != nil {
				return Null(), err
			}
			m.Set(ks, ev)
		}
		m.SortKeys()
		return MapValue(m), nil
	default:
		return Null(), fmt.Errorf("unsupported value type %T", x)
	}
}

// NumberValue parses a JSON number literal. Literals with a fraction or exponent are
// floats, everything else is an integer.
func NumberValue(lit string) (Value, error) {
	for i := 0; i < len(lit); i++ {
		switch lit[i] {
		case '.', 'e', 'E':
			f, err := strconv.ParseFloat(lit, 64)
			if err != nil {
				return Null(), fmt.Errorf("parsing float %q: %w", lit, err)
			}
			return Float(f), nil
		}
	}
	i, err := strconv.ParseInt(lit, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(lit, 64)
		if ferr != nil {
			return Null(), fmt.Errorf("parsing integer %q: %w", lit, err)
		}
		return Float(f), nil
	}
	return Int(i), nil
}

func uintValue(u uint64) (Value, error) {
	if u > math.MaxInt64 {
		return Null(), fmt.Errorf("integer %d overflows int64", u)
	}
	return Int(int64(u)), nil
}

// MarshalJSON renders v as plain JSON for API consumers. Times use RFC 3339.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindTime:
		return json.Marshal(v.t.Format(time.RFC3339Nano))
	case KindList:
		return json.Marshal(v.list)
	case KindMap:
		return v.m.MarshalJSON()
	default:
		return json.Marshal(v.ToAny())
	}
}

// UnmarshalJSON parses plain JSON. Numbers keep their int/float distinction.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := ParseJSON(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// String renders a short human readable form, used in logs and CLI output.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "None"
	case KindString:
		return v.s
	case KindTime:
		return v.t.Format("2006-01-02 15:04:05")
	case KindMap:
		if ref, ok := v.Reference(); ok {
			return ref.String()
		}
		b, _ := v.MarshalJSON()
		return string(b)
	default:
		b, _ := v.MarshalJSON()
		return string(b)
	}
}

// DeepCopy returns a copy of v that shares no lists or maps with it.
func (v Value) DeepCopy() Value {
	switch v.kind {
	case KindList:
		out := make([]Value, len(v.list))
		for i := range v.list {
			out[i] = v.list[i].DeepCopy()
		}
		return List(out...)
	case KindMap:
		return MapValue(v.m.DeepCopy())
	}
	return v
}
