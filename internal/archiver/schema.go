package archiver

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/ajitpratap0/sg-archive/internal/codec"
	"github.com/ajitpratap0/sg-archive/internal/models"
)

const (
	schemaFile       = "schema.json"
	schemaEntityFile = "schema_entity.json"
	entitySchemaFile = "_schema.json"
	pageIndexFile    = "_page_index.json"
)

// Ignored lists what a filtered schema leaves out.
type Ignored struct {
	// DataTypes drops every field of these data types.
	DataTypes []string
	// Fields drops named fields per entity type.
	Fields map[string][]string
	// EntityTypes drops whole entity types from the entity schema.
	EntityTypes []string
}

// FilterSchema drops ignored data types and fields. Entity types left without any
// field are dropped.
func FilterSchema(raw *models.Map, ignored Ignored) *models.Map {
	out := models.NewMap()
	raw.Range(func(entityType string, v models.Value) bool {
		fields, ok := v.AsMap()
		if !ok {
			return true
		}
		dropped := ignored.Fields[entityType]
		kept := models.NewMap()
		fields.Range(func(name string, props models.Value) bool {
			pm, _ := props.AsMap()
			dataType, _ := models.PropValue(pm, "data_type").AsString()
			if slices.Contains(ignored.DataTypes, dataType) || slices.Contains(dropped, name) {
				return true
			}
			kept.Set(name, props)
			return true
		})
		if kept.Len() > 0 {
			out.Set(entityType, models.MapValue(kept))
		}
		return true
	})
	return out
}

// FilterSchemaEntity keeps the visible entity types that are not ignored.
func FilterSchemaEntity(raw *models.Map, ignored Ignored) *models.Map {
	out := models.NewMap()
	raw.Range(func(entityType string, v models.Value) bool {
		props, _ := v.AsMap()
		if !models.PropValue(props, "visible").Truthy() {
			return true
		}
		if slices.Contains(ignored.EntityTypes, entityType) {
			return true
		}
		out.Set(entityType, v)
		return true
	})
	return out
}

// loadSchema reads both schemas from the remote once per Archiver.
func (a *Archiver) loadSchema(ctx context.Context) error {
	a.schemaMu.Lock()
	defer a.schemaMu.Unlock()
	if a.schemaLoaded {
		return nil
	}
	full, err := a.client.SchemaRead(ctx)
	if err != nil {
		return fmt.Errorf("reading schema: %w", err)
	}
	entityFull, err := a.client.SchemaEntityRead(ctx)
	if err != nil {
		return fmt.Errorf("reading entity schema: %w", err)
	}
	a.schemaFull = full
	a.schemaEntityFull = entityFull
	filtered, filteredEntity := full, entityFull
	if !a.opts.Unfiltered {
		filtered = FilterSchema(full, a.ignored)
		filteredEntity = FilterSchemaEntity(entityFull, a.ignored)
	}
	a.schema = models.NewSchema(filtered)
	a.entitySchema = models.NewEntitySchema(filteredEntity)
	a.schemaLoaded = true
	return nil
}

// EntitySchema returns the filtered entity schema, reading it from the remote on first use.
func (a *Archiver) EntitySchema(ctx context.Context) (*models.EntitySchema, error) {
	if err := a.loadSchema(ctx); err != nil {
		return nil, err
	}
	return a.entitySchema, nil
}

// Schema returns the filtered field schema, reading it from the remote on first use.
func (a *Archiver) Schema(ctx context.Context) (*models.Schema, error) {
	if err := a.loadSchema(ctx); err != nil {
		return nil, err
	}
	return a.schema, nil
}

// SaveSchema writes the unfiltered schema snapshots to the output root.
func (a *Archiver) SaveSchema(ctx context.Context) error {
	if err := a.loadSchema(ctx); err != nil {
		return err
	}
	a.logger.Info("saving schema", "output", a.output)
	if err := codec.WriteFile(filepath.Join(a.output, schemaFile), codec.JSON, models.MapValue(a.schemaFull)); err != nil {
		return fmt.Errorf("saving schema: %w", err)
	}
	if err := codec.WriteFile(filepath.Join(a.output, schemaEntityFile), codec.JSON, models.MapValue(a.schemaEntityFull)); err != nil {
		return fmt.Errorf("saving entity schema: %w", err)
	}
	return nil
}
