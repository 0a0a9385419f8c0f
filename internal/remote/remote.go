// Package remote talks to the entity-record API being archived.
package remote

import (
	"context"
	"errors"

	"github.com/ajitpratap0/sg-archive/internal/models"
)

// ErrNotFound is returned when the remote reports a missing entity type or record.
var ErrNotFound = errors.New("not found")

// Client is the read-only subset of the remote API the archiver consumes.
type Client interface {
	// SchemaRead returns the field schema of every entity type:
	// entity type → field → properties.
	SchemaRead(ctx context.Context) (*models.Map, error)

	// SchemaEntityRead returns the entity schema: entity type → properties.
	SchemaEntityRead(ctx context.Context) (*models.Map, error)

	// Count returns the number of records of entityType matching filters.
	Count(ctx context.Context, entityType string, filters models.Filters) (int, error)

	// FetchPage returns page number page (1-based) of pageSize records ordered by id.
	FetchPage(ctx context.Context, entityType string, filters models.Filters, fields []string, pageSize, page int) ([]models.Record, error)

	// FetchByIDs returns the records of entityType with the given ids in one logical call.
	FetchByIDs(ctx context.Context, entityType string, ids []int64, fields []string) ([]models.Record, error)
}

// AttachmentFields are the Attachment fields fetched for localization.
var AttachmentFields = []string{
	"url",
	"name",
	"content_type",
	"link_type",
	"type",
	"id",
	"this_file",
	"image",
	"filmstrip_image",
}
