// Package mirror serves read-only queries from an archive on disk. It never contacts
// the remote.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ajitpratap0/sg-archive/internal/codec"
	"github.com/ajitpratap0/sg-archive/internal/metrics"
	"github.com/ajitpratap0/sg-archive/internal/models"
)

// ErrNotFound is returned by FindOne and Lookup when no record matches.
var ErrNotFound = errors.New("record not found")

const (
	pageIndexFile    = "_page_index.json"
	entitySchemaFile = "_schema.json"
	schemaFile       = "schema.json"
	schemaEntityFile = "schema_entity.json"
)

// Querier is the query surface consumed by the HTTP API and the MCP server.
type Querier interface {
	// Find returns copies of the records of entityType matching filters, in load order.
	// A nil fields list returns every field; otherwise type and id are always included.
	Find(ctx context.Context, entityType string, filters models.Filters, fields []string) ([]models.Record, error)

	// FindOne returns the first match or ErrNotFound.
	FindOne(ctx context.Context, entityType string, filters models.Filters, fields []string) (models.Record, error)

	// FieldNamesFor returns the archived field names of entityType.
	FieldNamesFor(entityType string) ([]string, error)

	// Lookup returns one record by id without loading the whole entity type.
	Lookup(ctx context.Context, entityType string, id int64) (models.Record, error)

	// EntityTypes returns the archived entity types.
	EntityTypes() ([]string, error)

	// Stats summarizes the archive.
	Stats(ctx context.Context) ([]TypeStats, error)
}

// Options configures a Mirror.
type Options struct {
	// Formats lists page formats in read preference order.
	Formats []codec.Format
	// PageCacheSize bounds the pages kept for Lookup.
	PageCacheSize int
	// LoadConcurrency bounds parallel loads in LoadAll.
	LoadConcurrency int
}

// TypeStats describes one archived entity type.
type TypeStats struct {
	EntityType  string `json:"entity_type"`
	DisplayName string `json:"display_name"`
	Records     int    `json:"records"`
	Pages       int    `json:"pages"`
	Loaded      bool   `json:"loaded"`
}

type table struct {
	records []models.Record
	byID    map[int64]int
}

// Mirror is the in-memory store rebuilt from an archive. Entity types load lazily on
// first query; loading is idempotent.
type Mirror struct {
	root   string
	opts   Options
	logger *slog.Logger

	mu      sync.RWMutex
	tables  map[string]*table
	indexes map[string]*models.Map

	group        singleflight.Group
	pages        *lru.Cache[string, *models.Map]
	schema       *models.Schema
	entitySchema *models.EntitySchema
}

// Compile-time interface check.
var _ Querier = (*Mirror)(nil)

// New opens the archive at root. The full schema snapshot is read when present.
func New(root string, opts Options, logger *slog.Logger) (*Mirror, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", root, err)
	}
	if len(opts.Formats) == 0 {
		for _, tag := range []string{"json", "msgpack", "cbor", "binc"} {
			f, _ := codec.ParseFormat(tag)
			opts.Formats = append(opts.Formats, f)
		}
	}
	if opts.PageCacheSize <= 0 {
		opts.PageCacheSize = 64
	}
	if opts.LoadConcurrency <= 0 {
		opts.LoadConcurrency = 4
	}
	pages, err := lru.New[string, *models.Map](opts.PageCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating page cache: %w", err)
	}
	m := &Mirror{
		root:    abs,
		opts:    opts,
		logger:  logger,
		tables:  make(map[string]*table),
		indexes: make(map[string]*models.Map),
		pages:   pages,
	}
	if raw, err := codec.ReadMap(filepath.Join(abs, schemaFile)); err == nil {
		m.schema = models.NewSchema(raw)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if raw, err := codec.ReadMap(filepath.Join(abs, schemaEntityFile)); err == nil {
		m.entitySchema = models.NewEntitySchema(raw)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return m, nil
}

// Root returns the absolute archive root.
func (m *Mirror) Root() string { return m.root }

// DataDir returns the folder holding every entity type.
func (m *Mirror) DataDir() string { return filepath.Join(m.root, "data") }

func (m *Mirror) typeDir(entityType string) string {
	return filepath.Join(m.root, "data", entityType)
}

// Schema returns the full schema snapshot, or nil when the archive has none.
func (m *Mirror) Schema() *models.Schema { return m.schema }

// DisplayName returns the display name of entityType from the entity schema snapshot.
func (m *Mirror) DisplayName(entityType string) string {
	if m.entitySchema == nil {
		return entityType
	}
	return m.entitySchema.DisplayName(entityType)
}

// EntityTypes returns the entity types that finished archiving, sorted by name.
func (m *Mirror) EntityTypes() ([]string, error) {
	entries, err := os.ReadDir(m.DataDir())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", m.DataDir(), err)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(m.DataDir(), e.Name(), pageIndexFile)); err == nil {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

// Loaded reports whether entityType is held in memory.
func (m *Mirror) Loaded(entityType string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.tables[entityType]
	return ok
}

// LoadAll loads every archived entity type in parallel.
func (m *Mirror) LoadAll(ctx context.Context) error {
	types, err := m.EntityTypes()
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.LoadConcurrency)
	for _, t := range types {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return m.LoadEntityType(t)
		})
	}
	return g.Wait()
}

// LoadEntityType reads every page of entityType into memory. Already loaded entity
// types are not read again.
func (m *Mirror) LoadEntityType(entityType string) error {
	_, err := m.table(entityType)
	return err
}

func (m *Mirror) table(entityType string) (*table, error) {
	m.mu.RLock()
	t, ok := m.tables[entityType]
	m.mu.RUnlock()
	if ok {
		return t, nil
	}
	v, err, _ := m.group.Do(entityType, func() (any, error) {
		m.mu.RLock()
		t, ok := m.tables[entityType]
		m.mu.RUnlock()
		if ok {
			return t, nil
		}
		t, err := m.load(entityType)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.tables[entityType] = t
		m.mu.Unlock()
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*table), nil
}

func (m *Mirror) load(entityType string) (*table, error) {
	dir := m.typeDir(entityType)
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("%w: %s is not archived", models.ErrUnknownEntityType, entityType)
	}
	m.logger.Info("loading entity type", "entity_type", entityType)

	stems, err := m.stems(entityType)
	if err != nil {
		return nil, err
	}
	t := &table{byID: make(map[int64]int)}
	for _, stem := range stems {
		page, err := m.readPage(entityType, stem)
		if err != nil {
			return nil, err
		}
		page.Range(func(_ string, v models.Value) bool {
			rm, ok := v.AsMap()
			if !ok {
				return true
			}
			rec := models.AsRecord(rm)
			id, ok := rec.ID()
			if !ok {
				return true
			}
			if i, dup := t.byID[id]; dup {
				t.records[i] = rec
				return true
			}
			t.byID[id] = len(t.records)
			t.records = append(t.records, rec)
			return true
		})
	}
	metrics.MirrorRecordsLoaded.WithLabelValues(entityType).Add(float64(len(t.records)))
	m.logger.Debug("loaded entity type", "entity_type", entityType, "records", len(t.records), "pages", len(stems))
	return t, nil
}

// pageIndex returns the id → page stem map of entityType, or nil when it was not
// written.
func (m *Mirror) pageIndex(entityType string) (*models.Map, error) {
	m.mu.RLock()
	idx, ok := m.indexes[entityType]
	m.mu.RUnlock()
	if ok {
		return idx, nil
	}
	idx, err := codec.ReadMap(filepath.Join(m.typeDir(entityType), pageIndexFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.indexes[entityType] = idx
	m.mu.Unlock()
	return idx, nil
}

// stems lists the page stems of entityType in page order, from the page index or,
// when it is missing, from the page files present.
func (m *Mirror) stems(entityType string) ([]string, error) {
	idx, err := m.pageIndex(entityType)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var stems []string
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			stems = append(stems, s)
		}
	}
	if idx != nil {
		idx.Range(func(_ string, v models.Value) bool {
			if s, ok := v.AsString(); ok {
				add(s)
			}
			return true
		})
	} else {
		for _, f := range m.opts.Formats {
			matches, err := filepath.Glob(filepath.Join(m.typeDir(entityType), entityType+"_*."+f.Ext))
			if err != nil {
				return nil, err
			}
			for _, p := range matches {
				add(strings.TrimSuffix(filepath.Base(p), "."+f.Ext))
			}
		}
	}
	slices.SortFunc(stems, func(a, b string) int { return pageNumber(a) - pageNumber(b) })
	return stems, nil
}

func pageNumber(stem string) int {
	n, _ := strconv.Atoi(stem[strings.LastIndexByte(stem, '_')+1:])
	return n
}

// readPage decodes the first available format of one page and rewrites its records.
func (m *Mirror) readPage(entityType, stem string) (*models.Map, error) {
	for _, f := range m.opts.Formats {
		path := filepath.Join(m.typeDir(entityType), stem+"."+f.Ext)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		v, err := codec.ReadFileAs(path, f)
		if err != nil {
			return nil, err
		}
		page, ok := v.AsMap()
		if !ok {
			return nil, fmt.Errorf("%s: expected a page object, got %s", path, v.Kind())
		}
		page.Range(func(_ string, rv models.Value) bool {
			if rm, ok := rv.AsMap(); ok {
				m.rewrite(entityType, rm)
			}
			return true
		})
		return page, nil
	}
	return nil, fmt.Errorf("page %s of %s: no readable file", stem, entityType)
}

// rewrite adds the retired marker and points localized file descriptors at the
// local copies.
func (m *Mirror) rewrite(entityType string, rec *models.Map) {
	rec.SetDefault(models.RetiredField, models.Bool(false))
	m.rewriteDescriptors(m.typeDir(entityType), rec, true)
}

func (m *Mirror) rewriteDescriptors(dir string, rec *models.Map, embedded bool) {
	for _, field := range rec.Keys() {
		v := rec.Value(field)
		if fd, ok := v.FileDescriptor(); ok {
			if nv, changed := m.localize(dir, fd); changed {
				rec.Set(field, nv)
			}
			continue
		}
		if !embedded {
			continue
		}
		for _, e := range attachments(v) {
			m.rewriteDescriptors(m.typeDir(models.AttachmentType), e, false)
		}
	}
}

// attachments returns the embedded Attachment records held by v.
func attachments(v models.Value) []*models.Map {
	var items []models.Value
	if list, ok := v.AsList(); ok {
		items = list
	} else {
		items = []models.Value{v}
	}
	var out []*models.Map
	for _, item := range items {
		if ref, ok := item.Reference(); ok && ref.Type == models.AttachmentType {
			am, _ := item.AsMap()
			out = append(out, am)
		}
	}
	return out
}

// localize resolves a descriptor against dir. Image descriptors become a bare file URI;
// url and attachment descriptors keep their shape with url rewritten.
func (m *Mirror) localize(dir string, fd models.FileDescriptor) (models.Value, bool) {
	if fd.LocalPath == "" {
		return models.Null(), false
	}
	base := dir
	if fd.DownloadType == models.DownloadAttachment {
		base = m.typeDir(models.AttachmentType)
	}
	uri := FileURI(filepath.Join(base, filepath.FromSlash(fd.LocalPath)))
	if fd.DownloadType == models.DownloadImage {
		return models.String(uri), true
	}
	fd.Map().Set("url", models.String(uri))
	return models.Null(), false
}

// FileURI renders an absolute path as a file:// URI.
func FileURI(path string) string {
	p := filepath.ToSlash(path)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return (&url.URL{Scheme: "file", Path: p}).String()
}

// Find returns projected copies of the matching records in load order.
func (m *Mirror) Find(_ context.Context, entityType string, filters models.Filters, fields []string) ([]models.Record, error) {
	metrics.Inc(metrics.MirrorQueries, "find")
	t, err := m.table(entityType)
	if err != nil {
		return nil, err
	}
	out := []models.Record{}
	for _, r := range t.records {
		if filters.Match(r) {
			out = append(out, project(r, fields))
		}
	}
	return out, nil
}

// FindOne returns the first matching record.
func (m *Mirror) FindOne(_ context.Context, entityType string, filters models.Filters, fields []string) (models.Record, error) {
	metrics.Inc(metrics.MirrorQueries, "find_one")
	t, err := m.table(entityType)
	if err != nil {
		return models.Record{}, err
	}
	for _, r := range t.records {
		if filters.Match(r) {
			return project(r, fields), nil
		}
	}
	return models.Record{}, fmt.Errorf("%w: %s matching %d conditions", ErrNotFound, entityType, len(filters))
}

// FieldNamesFor returns the field names of entityType from its archived schema,
// falling back to the full schema snapshot.
func (m *Mirror) FieldNamesFor(entityType string) ([]string, error) {
	metrics.Inc(metrics.MirrorQueries, "field_names")
	raw, err := codec.ReadMap(filepath.Join(m.typeDir(entityType), entitySchemaFile))
	if err == nil {
		return raw.Keys(), nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if m.schema == nil {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownEntityType, entityType)
	}
	return m.schema.FieldNames(entityType)
}

// Lookup returns one record by id. A loaded entity type answers from memory; otherwise
// the page index locates the page, which is read through the page cache.
func (m *Mirror) Lookup(_ context.Context, entityType string, id int64) (models.Record, error) {
	metrics.Inc(metrics.MirrorQueries, "lookup")
	key := strconv.FormatInt(id, 10)

	m.mu.RLock()
	t, loaded := m.tables[entityType]
	m.mu.RUnlock()
	if loaded {
		if i, ok := t.byID[id]; ok {
			return project(t.records[i], nil), nil
		}
		return models.Record{}, fmt.Errorf("%w: %s:%d", ErrNotFound, entityType, id)
	}

	idx, err := m.pageIndex(entityType)
	if err != nil {
		return models.Record{}, err
	}
	if idx == nil {
		return models.Record{}, fmt.Errorf("%w: %s is not archived", models.ErrUnknownEntityType, entityType)
	}
	stem, ok := idx.Value(key).AsString()
	if !ok {
		return models.Record{}, fmt.Errorf("%w: %s:%d", ErrNotFound, entityType, id)
	}

	cacheKey := entityType + "/" + stem
	page, hit := m.pages.Get(cacheKey)
	if hit {
		metrics.Inc(metrics.PageCacheLookups, "hit")
	} else {
		metrics.Inc(metrics.PageCacheLookups, "miss")
		page, err = m.readPage(entityType, stem)
		if err != nil {
			return models.Record{}, err
		}
		m.pages.Add(cacheKey, page)
	}
	rm, ok := page.Value(key).AsMap()
	if !ok {
		return models.Record{}, fmt.Errorf("%w: %s:%d not in %s", ErrNotFound, entityType, id, stem)
	}
	return project(models.AsRecord(rm), nil), nil
}

// Stats summarizes every archived entity type from its page index.
func (m *Mirror) Stats(_ context.Context) ([]TypeStats, error) {
	types, err := m.EntityTypes()
	if err != nil {
		return nil, err
	}
	out := make([]TypeStats, 0, len(types))
	for _, t := range types {
		idx, err := m.pageIndex(t)
		if err != nil {
			return nil, err
		}
		pages := map[string]bool{}
		idx.Range(func(_ string, v models.Value) bool {
			pages[v.String()] = true
			return true
		})
		out = append(out, TypeStats{
			EntityType:  t,
			DisplayName: m.DisplayName(t),
			Records:     idx.Len(),
			Pages:       len(pages),
			Loaded:      m.Loaded(t),
		})
	}
	return out, nil
}

// project returns a deep copy of r restricted to fields. Type and id are always kept;
// requested fields the record lacks are null.
func project(r models.Record, fields []string) models.Record {
	if fields == nil {
		return models.AsRecord(r.DeepCopy())
	}
	out := models.NewMap()
	for _, f := range append([]string{"type", "id"}, fields...) {
		if out.Has(f) {
			continue
		}
		out.Set(f, r.Value(f).DeepCopy())
	}
	return models.AsRecord(out)
}
