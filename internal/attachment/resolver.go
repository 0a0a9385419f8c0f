// Package attachment localizes the Attachment records linked from archived records.
package attachment

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/ajitpratap0/sg-archive/internal/classifier"
	"github.com/ajitpratap0/sg-archive/internal/download"
	"github.com/ajitpratap0/sg-archive/internal/models"
	"github.com/ajitpratap0/sg-archive/internal/remote"
)

// ThisFileField is the Attachment field holding the file payload.
const ThisFileField = "this_file"

// Cache maps an Attachment id to its localized record. Records referencing the same
// Attachment share the cached Map.
type Cache map[int64]*models.Map

// ExtRules lists, per entity type and field, the file extensions (with the leading dot)
// whose attachments are described but not downloaded.
type ExtRules map[string]map[string][]string

// Skips reports whether a file at localPath linked from entityType.field is excluded.
func (r ExtRules) Skips(entityType, field, localPath string) bool {
	exts := r[entityType][field]
	return len(exts) > 0 && slices.Contains(exts, path.Ext(localPath))
}

// Options configures a Resolver.
type Options struct {
	Client     remote.Client
	Classifier *classifier.Classifier
	Scheduler  *download.Scheduler
	Recorded   *RecordedIDs
	// Dir is the Attachment entity type folder, <output>/data/Attachment.
	Dir   string
	Rules ExtRules
}

// Resolver replaces Attachment references with localized Attachment records and
// schedules their payloads. One Resolver serves one entity type run.
type Resolver struct {
	opts   Options
	logger *slog.Logger

	mu   sync.Mutex
	urls map[int64]string
}

// NewResolver creates a Resolver.
func NewResolver(opts Options, logger *slog.Logger) *Resolver {
	return &Resolver{opts: opts, logger: logger, urls: make(map[int64]string)}
}

// Process localizes every Attachment linked from records, which are modified in place.
// All Attachments of the batch are fetched with a single remote call.
func (r *Resolver) Process(ctx context.Context, entityType string, records []models.Record) (Cache, error) {
	classes, err := r.opts.Classifier.Classes(entityType)
	if err != nil {
		return nil, err
	}
	fields := classes.Attachment
	if entityType == models.AttachmentType {
		if err := r.LocalizeInPlace(ctx, records); err != nil {
			return nil, err
		}
		fields = slices.DeleteFunc(slices.Clone(fields), func(f string) bool { return f == ThisFileField })
	}

	ids := r.discover(records, fields)
	cache := Cache{}
	if len(ids) == 0 {
		return cache, nil
	}

	start := time.Now()
	attachments, err := r.opts.Client.FetchByIDs(ctx, models.AttachmentType, ids, remote.AttachmentFields)
	if err != nil {
		return nil, fmt.Errorf("fetching attachments: %w", err)
	}
	r.logger.Info("selected linked attachments", "attachments", len(attachments), "ids", len(ids), "took", time.Since(start).Round(time.Second))

	for _, a := range attachments {
		if err := r.localize(ctx, a); err != nil {
			return nil, err
		}
		id, _ := a.ID()
		cache[id] = a.Map
	}

	for _, rec := range records {
		for _, field := range fields {
			if err := r.substitute(ctx, entityType, rec, field, cache); err != nil {
				return nil, err
			}
		}
	}
	return cache, nil
}

// LocalizeInPlace localizes Attachment records being archived as their own entity type.
func (r *Resolver) LocalizeInPlace(ctx context.Context, records []models.Record) error {
	for _, rec := range records {
		id, ok := rec.ID()
		if !ok {
			continue
		}
		r.opts.Recorded.Add(id)
		if err := r.localize(ctx, rec); err != nil {
			return err
		}
		if err := r.fetchPayload(ctx, models.AttachmentType, ThisFileField, rec.Map); err != nil {
			return err
		}
	}
	return nil
}

// discover collects the ids of Attachment references held by fields, recording them in
// the run-wide set.
func (r *Resolver) discover(records []models.Record, fields []string) []int64 {
	seen := map[int64]bool{}
	var ids []int64
	for _, rec := range records {
		for _, field := range fields {
			for _, ref := range rec.Value(field).References() {
				if ref.Type != models.AttachmentType || seen[ref.ID] {
					continue
				}
				seen[ref.ID] = true
				ids = append(ids, ref.ID)
			}
		}
	}
	r.opts.Recorded.Add(ids...)
	slices.Sort(ids)
	return ids
}

// localize rewrites the this_file descriptor of an Attachment to point at its local
// copy and localizes the Attachment's own image fields into the Attachment folder.
func (r *Resolver) localize(ctx context.Context, a models.Record) error {
	attachmentID, _ := a.ID()
	if tf, ok := a.Value(ThisFileField).AsMap(); ok {
		fileID, ok := tf.Value("id").AsInt()
		if !ok {
			fileID = attachmentID
		}
		name := "no_name"
		if n, ok := tf.Value("name").AsString(); ok {
			name = download.SanitizeName(n)
		}
		name = fmt.Sprintf("%d-%s", fileID, name)
		local := path.Join("files", ThisFileField, name)

		if _, done := models.DescriptorOf(tf); !done {
			src, _ := tf.Value("url").AsString()
			r.mu.Lock()
			r.urls[attachmentID] = src
			r.mu.Unlock()
		}
		tf.Set("name", models.String(name))
		models.MarkLocalized(tf, models.DownloadAttachment, local)
		tf.Set("url", models.String(local))
	}

	classes, err := r.opts.Classifier.Classes(models.AttachmentType)
	if err != nil {
		return err
	}
	for _, field := range classes.Image {
		if a.Value(field).IsNull() {
			continue
		}
		if _, err := r.opts.Scheduler.LocalizeField(ctx, a, field, r.opts.Dir); err != nil {
			return err
		}
	}
	return nil
}

// substitute replaces Attachment references in rec[field] with cached records and
// schedules their payloads.
func (r *Resolver) substitute(ctx context.Context, entityType string, rec models.Record, field string, cache Cache) error {
	v := rec.Value(field)
	var linked []*models.Map
	if items, ok := v.AsList(); ok {
		out := make([]models.Value, len(items))
		for i, item := range items {
			out[i] = item
			if a := r.cached(item, cache); a != nil {
				out[i] = models.MapValue(a)
				linked = append(linked, a)
			}
		}
		rec.Set(field, models.List(out...))
	} else if a := r.cached(v, cache); a != nil {
		rec.Set(field, models.MapValue(a))
		linked = append(linked, a)
	}

	for _, a := range linked {
		if err := r.fetchPayload(ctx, entityType, field, a); err != nil {
			return err
		}
	}
	return nil
}

func (r *Resolver) cached(v models.Value, cache Cache) *models.Map {
	ref, ok := v.Reference()
	if !ok || ref.Type != models.AttachmentType {
		return nil
	}
	a, ok := cache[ref.ID]
	if !ok {
		r.logger.Debug("linked attachment not returned by remote", "id", ref.ID)
	}
	return a
}

// fetchPayload submits the this_file payload of a localized Attachment unless an
// extension rule for entityType.field excludes it.
func (r *Resolver) fetchPayload(ctx context.Context, entityType, field string, a *models.Map) error {
	tf, ok := a.Value(ThisFileField).FileDescriptor()
	if !ok {
		return nil
	}
	sched := r.opts.Scheduler
	if r.opts.Rules.Skips(entityType, field, tf.LocalPath) {
		sched.Stats().AddSkipped(tf.LocalPath)
		r.logger.Debug("not downloading", "path", tf.LocalPath)
		return nil
	}

	id, _ := a.Value("id").AsInt()
	r.mu.Lock()
	src, ok := r.urls[id]
	r.mu.Unlock()
	if !ok || src == "" {
		return nil
	}
	_, err := sched.Submit(ctx, download.Task{
		URL:   src,
		Dest:  filepath.Join(r.opts.Dir, filepath.FromSlash(tf.LocalPath)),
		Owner: models.AttachmentType + ":" + strconv.FormatInt(id, 10) + ":" + ThisFileField,
	})
	return err
}
