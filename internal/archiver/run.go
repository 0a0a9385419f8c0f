package archiver

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/ajitpratap0/sg-archive/internal/models"
)

// Table selectors accepted in Plan.EntityTypes.
const (
	SelectAll     = "all"
	SelectMissing = "missing"
)

// Plan describes one archive invocation over many entity types.
type Plan struct {
	// EntityTypes lists entity types to archive. SelectAll expands to every entity type
	// of the filtered entity schema; SelectMissing to those not archived yet.
	EntityTypes []string
	// Filters holds per entity type conditions applied to count and fetch.
	Filters map[string]models.Filters
	// Clean removes the output before anything is written.
	Clean bool
	// SaveSchema writes schema.json and schema_entity.json.
	SaveSchema bool
	// Attachments runs the recorded attachments pass after the entity types.
	Attachments bool
}

// Report is the outcome of Run.
type Report struct {
	Results []*Result
}

// Failed returns the results of entity types that did not finish.
func (r *Report) Failed() []*Result {
	var out []*Result
	for _, res := range r.Results {
		if res.State == StateFailed {
			out = append(out, res)
		}
	}
	return out
}

// Run archives every entity type of plan in order. A failed entity type is logged and
// recorded in the report; the remaining ones still run. The returned error covers
// failures that prevent the run from starting.
func (a *Archiver) Run(ctx context.Context, plan Plan) (*Report, error) {
	if plan.Clean {
		if err := a.Clean(); err != nil {
			return nil, err
		}
	}
	if plan.SaveSchema {
		if err := a.SaveSchema(ctx); err != nil {
			return nil, err
		}
	}
	entityTypes, err := a.Resolve(ctx, plan.EntityTypes)
	if err != nil {
		return nil, err
	}
	a.logger.Info("processing entity types", "count", len(entityTypes))

	report := &Report{}
	for _, entityType := range entityTypes {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		res, err := a.ArchiveEntityType(ctx, entityType, plan.Filters[entityType])
		if err != nil {
			a.logger.Error("archiving entity type failed", "entity_type", entityType, "error", err)
		}
		report.Results = append(report.Results, res)
	}
	if plan.Attachments {
		res, err := a.ArchiveRecordedAttachments(ctx)
		if err != nil {
			a.logger.Error("archiving recorded attachments failed", "error", err)
		}
		report.Results = append(report.Results, res)
	}
	a.logger.Info("finished archiving entity types", "failed", len(report.Failed()))
	return report, nil
}

// Resolve expands the all and missing selectors against the filtered entity schema.
// Explicit names are kept in the order given.
func (a *Archiver) Resolve(ctx context.Context, selected []string) ([]string, error) {
	switch {
	case slices.Contains(selected, SelectAll):
		es, err := a.EntitySchema(ctx)
		if err != nil {
			return nil, err
		}
		return es.EntityTypes(), nil
	case slices.Contains(selected, SelectMissing):
		es, err := a.EntitySchema(ctx)
		if err != nil {
			return nil, err
		}
		var out []string
		for _, t := range es.EntityTypes() {
			if !a.IsArchived(t) {
				out = append(out, t)
			}
		}
		return out, nil
	}
	return selected, nil
}

// Progress renders the completion estimate logged while paging.
func Progress(current, total int, start time.Time) string {
	elapsed := time.Since(start)
	perPage := elapsed / time.Duration(max(current, 1))
	estTotal := perPage * time.Duration(total)
	remaining := perPage * time.Duration(total-current)
	pct := 0.0
	if total > 0 {
		pct = float64(current) / float64(total) * 100
	}
	return fmt.Sprintf("%.2f%%(%d/%d) Elapsed: %s, Est. Remain: %s, Est. Total: %s",
		pct, current, total, FormatDuration(elapsed), FormatDuration(remaining), FormatDuration(estTotal))
}

// FormatDuration renders d as H:MM:SS, prefixed with the day count past 24 hours.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	days := secs / 86400
	secs %= 86400
	s := fmt.Sprintf("%d:%02d:%02d", secs/3600, secs%3600/60, secs%60)
	switch {
	case days == 1:
		return "1 day, " + s
	case days > 1:
		return fmt.Sprintf("%d days, %s", days, s)
	}
	return s
}
