package main

import (
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ajitpratap0/sg-archive/internal/archiver"
	"github.com/ajitpratap0/sg-archive/internal/download"
)

func archiveCmd() *cobra.Command {
	var (
		tables      []string
		limit       int
		maxPages    int
		clean       bool
		saveSchema  bool
		attachments bool
		formats     []string
	)

	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Archive entity types into the output directory",
		Long: `Pages every selected entity type into <output>/data/<EntityType>/ and downloads
the files its records reference. Use -t all for every entity type of the filtered
schema, or -t missing for the ones not archived yet.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			if cmd.Flags().Changed("limit") {
				cfg.Archive.PageSize = limit
			}
			if cmd.Flags().Changed("max-pages") {
				cfg.Archive.MaxPages = maxPages
			}
			if cmd.Flags().Changed("format") {
				cfg.Archive.Formats = formats
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("archive: %w", err)
			}

			client, err := newRemote(logger)
			if err != nil {
				return fmt.Errorf("archive: %w", err)
			}
			a, err := newArchiver(client, logger)
			if err != nil {
				return fmt.Errorf("archive: %w", err)
			}
			filters, err := cfg.FilterSet()
			if err != nil {
				return fmt.Errorf("archive: %w", err)
			}

			start := time.Now()
			report, err := a.Run(ctx, archiver.Plan{
				EntityTypes: tables,
				Filters:     filters,
				Clean:       clean,
				SaveSchema:  saveSchema,
				Attachments: attachments,
			})
			if report != nil {
				renderResults(report)
				renderDownloads(a.Stats().Summary(cfg.Archive.MaxFailuresShown))
			}
			if err != nil {
				return fmt.Errorf("archive: %w", err)
			}
			fmt.Printf("\nFinished archiving entity types in %s.\n", archiver.FormatDuration(time.Since(start)))

			if failed := report.Failed(); len(failed) > 0 {
				return fmt.Errorf("archive: %d entity types failed", len(failed))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&tables, "table", "t", nil, "entity types to archive, or all / missing (repeatable)")
	cmd.Flags().IntVar(&limit, "limit", 0, "records per page (default: config archive.page_size)")
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "stop after this many pages per entity type even if records remain")
	cmd.Flags().BoolVar(&clean, "clean", false, "remove the output before archiving")
	cmd.Flags().BoolVar(&saveSchema, "schema", true, "save schema.json and schema_entity.json in the output")
	cmd.Flags().BoolVar(&attachments, "attachments", true, "archive the recorded Attachment records after the entity types")
	cmd.Flags().StringSliceVar(&formats, "format", nil, "page formats to write: json, msgpack, msgpack-1, cbor, binc (repeatable)")
	_ = cmd.MarkFlagRequired("table")
	return cmd
}

func renderResults(report *archiver.Report) {
	if len(report.Results) == 0 {
		fmt.Println("No entity types to archive.")
		return
	}
	t := newTable(os.Stdout)
	t.AppendHeader(table.Row{"Entity Type", "Display Name", "State", "Count", "Pages", "Records", "Duration", "Error"})
	for _, res := range report.Results {
		if res == nil {
			continue
		}
		errText := ""
		if res.Err != nil {
			errText = truncate(res.Err.Error(), 60)
		}
		t.AppendRow(table.Row{
			res.EntityType,
			res.DisplayName,
			res.State.String(),
			res.Count,
			res.Pages,
			res.Records,
			archiver.FormatDuration(res.Duration),
			errText,
		})
	}
	t.Render()
}

func renderDownloads(sum download.Summary) {
	fmt.Printf("\nDownloads: %d completed, %d skipped, %d failed\n", sum.Downloaded, sum.Skipped, sum.Failed)
	if len(sum.Failures) == 0 {
		return
	}
	t := newTable(os.Stdout)
	t.AppendHeader(table.Row{"URL", "Destination", "Error"})
	for _, f := range sum.Failures {
		t.AppendRow(table.Row{truncate(f.URL, 60), f.Dest, truncate(f.Err, 60)})
	}
	t.Render()
	if sum.Omitted > 0 {
		fmt.Printf("... and %d more failures\n", sum.Omitted)
	}
}
