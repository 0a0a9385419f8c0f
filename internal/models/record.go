package models

import (
	"fmt"
	"strconv"
)

// AttachmentType is the entity type whose records describe downloadable file payloads.
const AttachmentType = "Attachment"

// RetiredField marks a record as retired. Archived records never carry it, so the mirror adds it as false.
const RetiredField = "__retired"

// Record is one entity record: a Map that carries "type" and "id" fields.
type Record struct {
	*Map
}

// NewRecord returns a record with its type and id set.
func NewRecord(entityType string, id int64) Record {
	m := NewMap()
	m.Set("type", String(entityType))
	m.Set("id", Int(id))
	return Record{Map: m}
}

// AsRecord wraps m. It does not validate that m carries an id.
func AsRecord(m *Map) Record { return Record{Map: m} }

// ID returns the integer id of the record.
func (r Record) ID() (int64, bool) {
	return r.Value("id").AsInt()
}

// Type returns the entity type name of the record.
func (r Record) Type() string {
	s, _ := r.Value("type").AsString()
	return s
}

// Key returns the id rendered as a decimal string, the form used for page and index keys.
func (r Record) Key() (string, error) {
	id, ok := r.ID()
	if !ok {
		return "", fmt.Errorf("record has no integer id (got %s)", r.Value("id").Kind())
	}
	return strconv.FormatInt(id, 10), nil
}

// Equal reports deep equality ignoring key order.
func (r Record) Equal(o Record) bool { return r.Map.Equal(o.Map) }

// Reference is the {type, id[, name]} form the remote API uses for links between records.
type Reference struct {
	Type string
	ID   int64
	Name string
}

// Reference interprets v as a link to another record. It succeeds on a map with a
// string "type" and an integer "id".
func (v Value) Reference() (Reference, bool) {
	m, ok := v.AsMap()
	if !ok {
		return Reference{}, false
	}
	typ, ok := m.Value("type").AsString()
	if !ok || typ == "" {
		return Reference{}, false
	}
	id, ok := m.Value("id").AsInt()
	if !ok {
		return Reference{}, false
	}
	name, _ := m.Value("name").AsString()
	return Reference{Type: typ, ID: id, Name: name}, true
}

// Value renders the reference in its wire form.
func (r Reference) Value() Value {
	m := NewMap()
	m.Set("type", String(r.Type))
	m.Set("id", Int(r.ID))
	if r.Name != "" {
		m.Set("name", String(r.Name))
	}
	return MapValue(m)
}

// String formats the reference as Type:id.
func (r Reference) String() string {
	return r.Type + ":" + strconv.FormatInt(r.ID, 10)
}

// References returns every Reference held by v, either as a single link or as
// elements of a multi-entity list. Other values yield nil.
func (v Value) References() []Reference {
	if ref, ok := v.Reference(); ok {
		return []Reference{ref}
	}
	list, ok := v.AsList()
	if !ok {
		return nil
	}
	var refs []Reference
	for _, e := range list {
		if ref, ok := e.Reference(); ok {
			refs = append(refs, ref)
		}
	}
	return refs
}
