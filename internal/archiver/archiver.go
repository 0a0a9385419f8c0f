// Package archiver pages entity records out of the remote into the on-disk archive.
package archiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ajitpratap0/sg-archive/internal/attachment"
	"github.com/ajitpratap0/sg-archive/internal/classifier"
	"github.com/ajitpratap0/sg-archive/internal/codec"
	"github.com/ajitpratap0/sg-archive/internal/download"
	"github.com/ajitpratap0/sg-archive/internal/metrics"
	"github.com/ajitpratap0/sg-archive/internal/models"
	"github.com/ajitpratap0/sg-archive/internal/remote"
)

const (
	// DefaultPageSize is the number of records requested per page.
	DefaultPageSize = 50
	// DefaultDownloadThreshold is the pending-download backlog that forces a drain
	// before the next page, so signed download links do not expire while queued.
	DefaultDownloadThreshold = 500
)

// ErrDuplicateRecord is returned in strict mode when an id appears twice in one run.
var ErrDuplicateRecord = errors.New("duplicate record")

// State is the progress of one entity type's run.
type State int32

const (
	StateInit State = iota
	StateCounting
	StatePaging
	StateDraining
	StateDone
	StateFailed
)

// String returns the string representation of a state.
func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateCounting:
		return "counting"
	case StatePaging:
		return "paging"
	case StateDraining:
		return "draining"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Options configures an Archiver.
type Options struct {
	PageSize int
	// MaxPages caps the number of pages per entity type. Zero means no cap.
	MaxPages          int
	Formats           []codec.Format
	DownloadThreshold int
	// Strict rejects duplicate ids and reloads every written page to compare it.
	Strict     bool
	Mode       download.Mode
	Workers    int
	HTTPClient *http.Client
	// Unfiltered archives the schema as the remote reports it, ignoring Ignored.
	Unfiltered bool
}

// Result describes one entity type's run.
type Result struct {
	EntityType  string
	DisplayName string
	State       State
	Count       int
	Pages       int
	Records     int
	Duration    time.Duration
	Err         error
}

// Archiver writes entity types into <output>/data. One Archiver serves one process run:
// the schema is read once and the recorded attachment ids and download stats
// accumulate across entity types.
type Archiver struct {
	client   remote.Client
	output   string
	opts     Options
	ignored  Ignored
	rules    attachment.ExtRules
	stats    *download.Stats
	recorded *attachment.RecordedIDs
	runID    string
	logger   *slog.Logger

	schemaMu         sync.Mutex
	schemaLoaded     bool
	schemaFull       *models.Map
	schemaEntityFull *models.Map
	schema           *models.Schema
	entitySchema     *models.EntitySchema
	classifier       *classifier.Classifier
}

// New creates an Archiver writing under output.
func New(client remote.Client, output string, opts Options, ignored Ignored, rules attachment.ExtRules, logger *slog.Logger) *Archiver {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.DownloadThreshold <= 0 {
		opts.DownloadThreshold = DefaultDownloadThreshold
	}
	if len(opts.Formats) == 0 {
		opts.Formats = []codec.Format{codec.JSON}
	}
	if opts.Mode == "" {
		opts.Mode = download.ModeMissing
	}
	runID := uuid.NewString()
	return &Archiver{
		client:   client,
		output:   output,
		opts:     opts,
		ignored:  ignored,
		rules:    rules,
		stats:    download.NewStats(),
		recorded: attachment.NewRecordedIDs(filepath.Join(output, "data", models.AttachmentType)),
		runID:    runID,
		logger:   logger.With("run_id", runID),
	}
}

// Stats returns the download stats accumulated so far.
func (a *Archiver) Stats() *download.Stats { return a.stats }

// Output returns the archive root.
func (a *Archiver) Output() string { return a.output }

// DataDir returns the folder of entityType.
func (a *Archiver) DataDir(entityType string) string {
	return filepath.Join(a.output, "data", entityType)
}

// IsArchived reports whether entityType finished a previous run, which is marked by
// its page index.
func (a *Archiver) IsArchived(entityType string) bool {
	_, err := os.Stat(filepath.Join(a.DataDir(entityType), pageIndexFile))
	return err == nil
}

// Clean removes the whole output directory.
func (a *Archiver) Clean() error {
	if _, err := os.Stat(a.output); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	a.logger.Info("removing output", "output", a.output)
	if err := os.RemoveAll(a.output); err != nil {
		return fmt.Errorf("cleaning %s: %w", a.output, err)
	}
	return nil
}

func (a *Archiver) classes(ctx context.Context) (*classifier.Classifier, error) {
	if err := a.loadSchema(ctx); err != nil {
		return nil, err
	}
	a.schemaMu.Lock()
	defer a.schemaMu.Unlock()
	if a.classifier == nil {
		a.classifier = classifier.New(a.schema, a.logger)
	}
	return a.classifier, nil
}

// ArchiveEntityType archives every record of entityType matching filters. Download
// failures are recorded in Stats; remote errors, destination collisions, duplicate
// ids and verification mismatches fail the run and are returned with the Result.
func (a *Archiver) ArchiveEntityType(ctx context.Context, entityType string, filters models.Filters) (res *Result, err error) {
	start := time.Now()
	res = &Result{EntityType: entityType, DisplayName: entityType, State: StateInit}
	defer func() {
		res.Duration = time.Since(start)
		if err != nil {
			res.State = StateFailed
			res.Err = err
		}
		metrics.Inc(metrics.EntityTypesFinished, res.State.String())
	}()

	cls, err := a.classes(ctx)
	if err != nil {
		return res, err
	}
	res.DisplayName = a.entitySchema.DisplayName(entityType)
	log := a.logger.With("entity_type", entityType)
	log.Info("processing", "display_name", res.DisplayName)

	raw, err := a.schema.Entity(entityType)
	if err != nil {
		return res, err
	}
	fields, _ := a.schema.FieldNames(entityType)
	classes, err := cls.Classes(entityType)
	if err != nil {
		return res, err
	}

	dataDir := a.DataDir(entityType)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return res, fmt.Errorf("creating %s: %w", dataDir, err)
	}
	if err := codec.WriteFile(filepath.Join(dataDir, entitySchemaFile), codec.JSON, models.MapValue(raw)); err != nil {
		return res, err
	}

	res.State = StateCounting
	count, err := a.client.Count(ctx, entityType, filters)
	if err != nil {
		return res, fmt.Errorf("counting %s: %w", entityType, err)
	}
	res.Count = count
	pageCount := (count + a.opts.PageSize - 1) / a.opts.PageSize
	if a.opts.MaxPages > 0 && pageCount > a.opts.MaxPages {
		pageCount = a.opts.MaxPages
	}
	log.Info("counted records", "total", count, "page_size", a.opts.PageSize, "pages", pageCount)

	res.State = StatePaging
	sched := download.NewScheduler(download.Options{
		Mode:       a.opts.Mode,
		Workers:    a.opts.Workers,
		HTTPClient: a.opts.HTTPClient,
	}, a.stats, log)
	defer sched.Close()
	resolver := attachment.NewResolver(attachment.Options{
		Client:     a.client,
		Classifier: cls,
		Scheduler:  sched,
		Recorded:   a.recorded,
		Dir:        a.DataDir(models.AttachmentType),
		Rules:      a.rules,
	}, log)

	imageFields := classes.Image
	if entityType == models.AttachmentType {
		// The resolver localizes them along with this_file.
		imageFields = nil
	}

	index := models.NewMap()
	queuedBefore := a.stats.Queued()
	for page := 1; page <= pageCount; page++ {
		if pending := sched.Pending(); pending > a.opts.DownloadThreshold {
			log.Info("waiting for pending downloads so links do not expire", "pending", pending,
				"progress", Progress(page-1, pageCount, start))
			sched.Drain()
		}

		fetchStart := time.Now()
		records, err := a.client.FetchPage(ctx, entityType, filters, fields, a.opts.PageSize, page)
		if err != nil {
			return res, fmt.Errorf("fetching %s page %d: %w", entityType, page, err)
		}
		if len(records) == 0 {
			break
		}
		log.Info("selected page", "page", page, "records", len(records),
			"took", time.Since(fetchStart).Round(time.Millisecond), "progress", Progress(page-1, pageCount, start))

		if _, err := resolver.Process(ctx, entityType, records); err != nil {
			return res, fmt.Errorf("localizing attachments of %s page %d: %w", entityType, page, err)
		}
		for _, rec := range records {
			for _, field := range imageFields {
				if _, err := sched.LocalizeField(ctx, rec, field, dataDir); err != nil {
					return res, fmt.Errorf("localizing %s: %w", field, err)
				}
			}
		}

		stem := entityType + "_" + strconv.Itoa(page)
		pageMap, err := a.makeIndex(entityType, records, index)
		if err != nil {
			return res, err
		}
		for _, id := range pageMap.Keys() {
			index.Set(id, models.String(stem))
		}
		if err := a.writePage(dataDir, stem, pageMap); err != nil {
			return res, err
		}
		res.Pages++
		res.Records += len(records)
		metrics.RecordsArchived.WithLabelValues(entityType).Add(float64(len(records)))
	}

	res.State = StateDraining
	if _, err := a.recorded.Merge(); err != nil {
		return res, err
	}
	log.Info("finished selecting pages, waiting for remaining downloads", "pending", sched.Pending(),
		"took", time.Since(start).Round(time.Second))
	sched.Close()

	if err := codec.WriteFile(filepath.Join(dataDir, pageIndexFile), codec.JSON, models.MapValue(index)); err != nil {
		return res, err
	}
	res.State = StateDone
	log.Info("records saved", "saved", res.Records, "total", count,
		"files_queued", a.stats.Queued()-queuedBefore, "took", time.Since(start).Round(time.Second))
	return res, nil
}

// makeIndex keys a page's records by id. In strict mode an id seen earlier in the page
// or in an earlier page of the run is an error; otherwise the last record wins.
func (a *Archiver) makeIndex(entityType string, records []models.Record, seen *models.Map) (*models.Map, error) {
	page := models.NewMap()
	for _, rec := range records {
		key, err := rec.Key()
		if err != nil {
			return nil, fmt.Errorf("indexing %s: %w", entityType, err)
		}
		if a.opts.Strict && (page.Has(key) || seen.Has(key)) {
			return nil, fmt.Errorf("%w: %s:%s", ErrDuplicateRecord, entityType, key)
		}
		page.Set(key, models.MapValue(rec.Map))
	}
	return page, nil
}

func (a *Archiver) writePage(dataDir, stem string, page *models.Map) error {
	for _, f := range a.opts.Formats {
		path := filepath.Join(dataDir, stem+"."+f.Ext)
		if err := codec.WriteFile(path, f, models.MapValue(page)); err != nil {
			return err
		}
		if a.opts.Strict {
			if err := codec.Verify(path, f, models.MapValue(page)); err != nil {
				return err
			}
		}
		metrics.Inc(metrics.PagesWritten, f.Name)
	}
	return nil
}

// ArchiveRecordedAttachments archives the Attachment records whose ids were recorded
// by this or earlier runs.
func (a *Archiver) ArchiveRecordedAttachments(ctx context.Context) (*Result, error) {
	ids, err := a.recorded.Merge()
	if err != nil {
		return &Result{EntityType: models.AttachmentType, State: StateFailed, Err: err}, err
	}
	if len(ids) == 0 {
		a.logger.Info("no recorded attachments to archive")
		return &Result{EntityType: models.AttachmentType, DisplayName: models.AttachmentType, State: StateDone}, nil
	}
	values := make([]models.Value, len(ids))
	for i, id := range ids {
		values[i] = models.Int(id)
	}
	filters := models.Filters{{Field: "id", Operator: models.OpIn, Value: models.List(values...)}}
	return a.ArchiveEntityType(ctx, models.AttachmentType, filters)
}
