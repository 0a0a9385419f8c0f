package remote

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/ajitpratap0/sg-archive/internal/models"
)

// MockClient is an in-memory implementation of Client for testing. Records are
// returned as deep copies, as a real API returns fresh data on every call.
type MockClient struct {
	mu           sync.RWMutex
	schema       *models.Map
	entitySchema *models.Map
	records      map[string][]models.Record
	calls        map[string]int

	// FailOn, when set, is consulted before every call; a non-nil error is returned as is.
	FailOn func(op, entityType string) error
}

// NewMockClient creates an empty mock.
func NewMockClient() *MockClient {
	return &MockClient{
		schema:       models.NewMap(),
		entitySchema: models.NewMap(),
		records:      make(map[string][]models.Record),
		calls:        make(map[string]int),
	}
}

// SetSchema replaces the field and entity schemas.
func (m *MockClient) SetSchema(schema, entitySchema *models.Map) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schema = schema
	m.entitySchema = entitySchema
}

// Add stores records, keeping them ordered by id.
func (m *MockClient) Add(records ...models.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		t := r.Type()
		m.records[t] = append(m.records[t], models.AsRecord(r.DeepCopy()))
	}
	for t := range m.records {
		slices.SortStableFunc(m.records[t], func(a, b models.Record) int {
			ia, _ := a.ID()
			ib, _ := b.ID()
			return cmp.Compare(ia, ib)
		})
	}
}

// Calls returns how often op ("count", "fetch_page", "fetch_by_ids", ...) was called
// for entityType.
func (m *MockClient) Calls(op, entityType string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[op+":"+entityType]
}

func (m *MockClient) record(op, entityType string) error {
	m.mu.Lock()
	m.calls[op+":"+entityType]++
	m.mu.Unlock()
	if m.FailOn != nil {
		return m.FailOn(op, entityType)
	}
	return nil
}

// SchemaRead returns a copy of the field schema.
func (m *MockClient) SchemaRead(_ context.Context) (*models.Map, error) {
	if err := m.record("schema_read", ""); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.schema.DeepCopy(), nil
}

// SchemaEntityRead returns a copy of the entity schema.
func (m *MockClient) SchemaEntityRead(_ context.Context) (*models.Map, error) {
	if err := m.record("schema_entity_read", ""); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entitySchema.DeepCopy(), nil
}

// Count counts matching records.
func (m *MockClient) Count(_ context.Context, entityType string, filters models.Filters) (int, error) {
	if err := m.record("count", entityType); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.records[entityType] {
		if filters.Match(r) {
			n++
		}
	}
	return n, nil
}

// FetchPage returns one page of matching records.
func (m *MockClient) FetchPage(_ context.Context, entityType string, filters models.Filters, fields []string, pageSize, page int) ([]models.Record, error) {
	if err := m.record("fetch_page", entityType); err != nil {
		return nil, err
	}
	if pageSize <= 0 || page <= 0 {
		return nil, fmt.Errorf("invalid page %d of size %d", page, pageSize)
	}
	matched := m.match(entityType, filters)
	start := (page - 1) * pageSize
	if start >= len(matched) {
		return []models.Record{}, nil
	}
	end := min(start+pageSize, len(matched))
	return project(matched[start:end], fields), nil
}

// FetchByIDs returns the matching records in id order.
func (m *MockClient) FetchByIDs(_ context.Context, entityType string, ids []int64, fields []string) ([]models.Record, error) {
	if err := m.record("fetch_by_ids", entityType); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []models.Record{}, nil
	}
	var matched []models.Record
	m.mu.RLock()
	for _, r := range m.records[entityType] {
		id, _ := r.ID()
		if slices.Contains(ids, id) {
			matched = append(matched, r)
		}
	}
	m.mu.RUnlock()
	return project(matched, fields), nil
}

func (m *MockClient) match(entityType string, filters models.Filters) []models.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Record
	for _, r := range m.records[entityType] {
		if filters.Match(r) {
			out = append(out, r)
		}
	}
	return out
}

// project deep-copies records restricted to fields plus type and id. A nil field
// list keeps every field.
func project(records []models.Record, fields []string) []models.Record {
	out := make([]models.Record, 0, len(records))
	for _, r := range records {
		if fields == nil {
			out = append(out, models.AsRecord(r.DeepCopy()))
			continue
		}
		keep := append([]string{"type", "id"}, fields...)
		p := models.NewMap()
		for _, f := range keep {
			if p.Has(f) {
				continue
			}
			if v, ok := r.Get(f); ok {
				p.Set(f, v.DeepCopy())
			} else {
				p.Set(f, models.Null())
			}
		}
		out = append(out, models.AsRecord(p))
	}
	return out
}
