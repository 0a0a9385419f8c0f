package models

import (
	"fmt"
	"strings"
)

// Operator is a filter comparison.
type Operator string

const (
	OpIs          Operator = "is"
	OpIsNot       Operator = "is_not"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	OpContains    Operator = "contains"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
)

// Valid reports whether op is supported.
func (op Operator) Valid() bool {
	switch op {
	case OpIs, OpIsNot, OpIn, OpNotIn, OpContains, OpGreaterThan, OpLessThan:
		return true
	}
	return false
}

// Filter is one field/operator/value condition.
type Filter struct {
	Field    string
	Operator Operator
	Value    Value
}

// Filters is a conjunction of conditions. An empty Filters matches every record.
type Filters []Filter

// NewFilter builds a condition from plain Go values.
func NewFilter(field string, op Operator, value any) (Filter, error) {
	v, err := FromAny(value)
	if err != nil {
		return Filter{}, fmt.Errorf("filter %s %s: %w", field, op, err)
	}
	if !op.Valid() {
		return Filter{}, fmt.Errorf("filter %s: unsupported operator %q", field, op)
	}
	return Filter{Field: field, Operator: op, Value: v}, nil
}

// ParseFilters reads the list-of-triples form, e.g. [["id", "in", [1, 2]], ["code", "is", "a"]].
// A condition with more than three elements collects the trailing values into a list.
func ParseFilters(v Value) (Filters, error) {
	if v.IsNull() {
		return nil, nil
	}
	list, ok := v.AsList()
	if !ok {
		return nil, fmt.Errorf("filters must be a list, got %s", v.Kind())
	}
	out := make(Filters, 0, len(list))
	for i, cond := range list {
		parts, ok := cond.AsList()
		if !ok || len(parts) < 3 {
			return nil, fmt.Errorf("filter %d: expected [field, operator, value]", i)
		}
		field, ok := parts[0].AsString()
		if !ok || field == "" {
			return nil, fmt.Errorf("filter %d: field must be a string", i)
		}
		op, _ := parts[1].AsString()
		if !Operator(op).Valid() {
			return nil, fmt.Errorf("filter %d: unsupported operator %q", i, op)
		}
		val := parts[2]
		if len(parts) > 3 {
			val = List(append([]Value(nil), parts[2:]...)...)
		}
		out = append(out, Filter{Field: field, Operator: Operator(op), Value: val})
	}
	return out, nil
}

// Value renders the filters back into the list-of-triples form.
func (fs Filters) Value() Value {
	list := make([]Value, len(fs))
	for i, f := range fs {
		list[i] = List(String(f.Field), String(string(f.Operator)), f.Value)
	}
	return List(list...)
}

// Match reports whether r satisfies every condition.
func (fs Filters) Match(r Record) bool {
	for _, f := range fs {
		if !f.Match(r) {
			return false
		}
	}
	return true
}

// Match reports whether r satisfies the condition. Missing fields compare as null.
func (f Filter) Match(r Record) bool {
	got := r.Value(f.Field)
	switch f.Operator {
	case OpIs:
		return valuesEqual(got, f.Value)
	case OpIsNot:
		return !valuesEqual(got, f.Value)
	case OpIn:
		return inValues(got, f.Value)
	case OpNotIn:
		return !inValues(got, f.Value)
	case OpContains:
		return contains(got, f.Value)
	case OpGreaterThan:
		c, ok := compare(got, f.Value)
		return ok && c > 0
	case OpLessThan:
		c, ok := compare(got, f.Value)
		return ok && c < 0
	}
	return false
}

func inValues(got, want Value) bool {
	candidates, ok := want.AsList()
	if !ok {
		candidates = []Value{want}
	}
	for _, c := range candidates {
		if valuesEqual(got, c) {
			return true
		}
	}
	return false
}

// valuesEqual compares references by (type, id) and numbers by magnitude.
func valuesEqual(a, b Value) bool {
	if ra, ok := a.Reference(); ok {
		if rb, ok := b.Reference(); ok {
			return ra.Type == rb.Type && ra.ID == rb.ID
		}
		return false
	}
	if a.Kind() == KindInt || a.Kind() == KindFloat {
		fa, _ := a.AsFloat()
		if fb, ok := b.AsFloat(); ok {
			return fa == fb
		}
		return false
	}
	return a.Equal(b)
}

func contains(got, want Value) bool {
	if s, ok := got.AsString(); ok {
		sub, ok := want.AsString()
		return ok && strings.Contains(strings.ToLower(s), strings.ToLower(sub))
	}
	if list, ok := got.AsList(); ok {
		for _, e := range list {
			if valuesEqual(e, want) {
				return true
			}
		}
	}
	return false
}

func compare(a, b Value) (int, bool) {
	if fa, ok := a.AsFloat(); ok {
		fb, ok := b.AsFloat()
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	if sa, ok := a.AsString(); ok {
		sb, ok := b.AsString()
		if !ok {
			return 0, false
		}
		return strings.Compare(sa, sb), true
	}
	if ta, ok := a.AsTime(); ok {
		tb, ok := b.AsTime()
		if !ok {
			return 0, false
		}
		return ta.Compare(tb), true
	}
	return 0, false
}
