package classifier

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/ajitpratap0/sg-archive/internal/models"
)

// FieldClass is the role a field plays during archival.
type FieldClass string

const (
	ClassPlain       FieldClass = "plain"
	ClassImage       FieldClass = "image"
	ClassAttachment  FieldClass = "attachment"
	ClassEntity      FieldClass = "entity"
	ClassMultiEntity FieldClass = "multi_entity"
)

// Classes holds the classified field names of one entity type, in schema order.
// Image and Attachment are disjoint. Entity and MultiEntity list reference fields
// that do not point at Attachment.
type Classes struct {
	Image       []string
	Attachment  []string
	Entity      []string
	MultiEntity []string

	byName map[string]FieldClass
}

// Kind returns the class of field. Unknown fields are plain.
func (c *Classes) Kind(field string) FieldClass {
	if k, ok := c.byName[field]; ok {
		return k
	}
	return ClassPlain
}

// Classify computes the classes of one entity type's field schema.
func Classify(schema *models.Schema, entityType string) (*Classes, error) {
	fields, err := schema.Fields(entityType)
	if err != nil {
		return nil, fmt.Errorf("classifying %s: %w", entityType, err)
	}
	c := &Classes{byName: make(map[string]FieldClass, len(fields))}
	for _, f := range fields {
		switch {
		case f.DataType == "image":
			c.Image = append(c.Image, f.Name)
			c.byName[f.Name] = ClassImage
		case f.DataType == "url":
			c.Attachment = append(c.Attachment, f.Name)
			c.byName[f.Name] = ClassAttachment
		case (f.DataType == "entity" || f.DataType == "multi_entity") &&
			slices.Contains(f.ValidTypes, models.AttachmentType):
			c.Attachment = append(c.Attachment, f.Name)
			c.byName[f.Name] = ClassAttachment
		case f.DataType == "entity":
			c.Entity = append(c.Entity, f.Name)
			c.byName[f.Name] = ClassEntity
		case f.DataType == "multi_entity":
			c.MultiEntity = append(c.MultiEntity, f.Name)
			c.byName[f.Name] = ClassMultiEntity
		}
	}
	return c, nil
}

// Classifier memoizes Classify per entity type for the life of one archival process.
type Classifier struct {
	schema *models.Schema
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]*Classes
}

// New creates a classifier over a filtered schema.
func New(schema *models.Schema, logger *slog.Logger) *Classifier {
	return &Classifier{
		schema: schema,
		logger: logger,
		cache:  make(map[string]*Classes),
	}
}

// Schema returns the schema the classifier was built over.
func (c *Classifier) Schema() *models.Schema { return c.schema }

// Classes returns the cached classes for entityType, computing them on first use.
// A missing schema entry is a programming error and returns models.ErrUnknownEntityType.
func (c *Classifier) Classes(entityType string) (*Classes, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cached, ok := c.cache[entityType]; ok {
		return cached, nil
	}
	classes, err := Classify(c.schema, entityType)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("classified fields", "entity_type", entityType,
		"image", len(classes.Image), "attachment", len(classes.Attachment))
	c.cache[entityType] = classes
	return classes, nil
}
