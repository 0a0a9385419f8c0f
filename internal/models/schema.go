package models

import (
	"errors"
	"fmt"
)

// ErrUnknownEntityType is returned when an entity type is missing from a schema.
var ErrUnknownEntityType = errors.New("unknown entity type")

// Field is one typed attribute of an entity type.
type Field struct {
	Name        string
	DisplayName string
	DataType    string
	ValidTypes  []string
}

// Schema wraps a raw field schema snapshot (entity type → field → properties). The raw
// form is kept so it can be re-saved unchanged.
type Schema struct {
	raw *Map
}

// NewSchema wraps a raw field schema. A nil map yields an empty schema.
func NewSchema(raw *Map) *Schema {
	if raw == nil {
		raw = NewMap()
	}
	return &Schema{raw: raw}
}

// Raw returns the underlying snapshot.
func (s *Schema) Raw() *Map { return s.raw }

// EntityTypes lists the entity types in snapshot order.
func (s *Schema) EntityTypes() []string { return s.raw.Keys() }

// Has reports whether entityType is present.
func (s *Schema) Has(entityType string) bool { return s.raw.Has(entityType) }

// Entity returns the raw field map of entityType.
func (s *Schema) Entity(entityType string) (*Map, error) {
	m, ok := s.raw.Value(entityType).AsMap()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntityType, entityType)
	}
	return m, nil
}

// FieldNames lists the field names of entityType in snapshot order.
func (s *Schema) FieldNames(entityType string) ([]string, error) {
	m, err := s.Entity(entityType)
	if err != nil {
		return nil, err
	}
	return m.Keys(), nil
}

// Fields returns the typed field definitions of entityType.
func (s *Schema) Fields(entityType string) ([]Field, error) {
	m, err := s.Entity(entityType)
	if err != nil {
		return nil, err
	}
	fields := make([]Field, 0, m.Len())
	m.Range(func(name string, v Value) bool {
		props, _ := v.AsMap()
		fields = append(fields, FieldFromProps(name, props))
		return true
	})
	return fields, nil
}

// FieldFromProps reads the typed attributes out of one raw field definition.
func FieldFromProps(name string, props *Map) Field {
	f := Field{Name: name}
	f.DataType, _ = PropValue(props, "data_type").AsString()
	f.DisplayName, _ = PropValue(props, "name").AsString()
	nested, _ := props.Value("properties").AsMap()
	if list, ok := PropValue(nested, "valid_types").AsList(); ok {
		for _, e := range list {
			if s, ok := e.AsString(); ok {
				f.ValidTypes = append(f.ValidTypes, s)
			}
		}
	}
	return f
}

// PropValue reads the {"value": x} wrapper used throughout schema snapshots.
func PropValue(m *Map, key string) Value {
	inner, ok := m.Value(key).AsMap()
	if !ok {
		return Null()
	}
	return inner.Value("value")
}

// EntitySchema wraps a raw entity schema snapshot (entity type → properties).
type EntitySchema struct {
	raw *Map
}

// NewEntitySchema wraps a raw entity schema. A nil map yields an empty schema.
func NewEntitySchema(raw *Map) *EntitySchema {
	if raw == nil {
		raw = NewMap()
	}
	return &EntitySchema{raw: raw}
}

// Raw returns the underlying snapshot.
func (s *EntitySchema) Raw() *Map { return s.raw }

// EntityTypes lists the entity types in snapshot order.
func (s *EntitySchema) EntityTypes() []string { return s.raw.Keys() }

// Has reports whether entityType is present.
func (s *EntitySchema) Has(entityType string) bool { return s.raw.Has(entityType) }

// DisplayName returns the human name of entityType, falling back to the type name.
func (s *EntitySchema) DisplayName(entityType string) string {
	props, _ := s.raw.Value(entityType).AsMap()
	if name, ok := PropValue(props, "name").AsString(); ok && name != "" {
		return name
	}
	return entityType
}

// Visible reports the visible flag of entityType.
func (s *EntitySchema) Visible(entityType string) bool {
	props, _ := s.raw.Value(entityType).AsMap()
	return PropValue(props, "visible").Truthy()
}
