package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/sg-archive/internal/models"
)

func exportCmd() *cobra.Command {
	var (
		format     string
		output     string
		filterJSON string
		fields     []string
	)

	cmd := &cobra.Command{
		Use:   "export [entity-type]",
		Short: "Export archived records of an entity type to JSON or CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()
			entityType := args[0]

			filters, err := parseFilterFlag(filterJSON)
			if err != nil {
				return fmt.Errorf("export: %w", err)
			}
			m, err := newMirror(logger)
			if err != nil {
				return fmt.Errorf("export: opening archive: %w", err)
			}
			recs, err := m.Find(ctx, entityType, filters, fields)
			if err != nil {
				return fmt.Errorf("export: %w", err)
			}

			var w *os.File
			if output == "" || output == "-" {
				w = os.Stdout
			} else {
				w, err = os.Create(output)
				if err != nil {
					return fmt.Errorf("export: creating output file: %w", err)
				}
				defer func() { _ = w.Close() }()
			}

			switch format {
			case "json":
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(recs); encErr != nil {
					return fmt.Errorf("export: encoding JSON: %w", encErr)
				}
			case "csv":
				headers := fields
				if headers == nil {
					names, namesErr := m.FieldNamesFor(entityType)
					if namesErr != nil {
						return fmt.Errorf("export: %w", namesErr)
					}
					headers = names
				}
				headers = append([]string{"type", "id"}, headers...)
				cw := csv.NewWriter(w)
				if writeErr := cw.Write(headers); writeErr != nil {
					return fmt.Errorf("export: writing CSV header: %w", writeErr)
				}
				for _, r := range recs {
					if writeErr := cw.Write(csvRow(r, headers)); writeErr != nil {
						return fmt.Errorf("export: writing CSV row: %w", writeErr)
					}
				}
				cw.Flush()
				if flushErr := cw.Error(); flushErr != nil {
					return fmt.Errorf("export: flushing CSV: %w", flushErr)
				}
			default:
				return fmt.Errorf("export: unsupported format %q (use json or csv)", format)
			}

			if output != "" && output != "-" {
				fmt.Fprintf(os.Stderr, "Exported %d %s records to %s\n", len(recs), entityType, output)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "json", "output format: json or csv")
	cmd.Flags().StringVar(&output, "to", "-", "output file path (- for stdout)")
	cmd.Flags().StringVar(&filterJSON, "filter", "", `filters as JSON [field, operator, value] triples`)
	cmd.Flags().StringSliceVar(&fields, "fields", nil, "fields to export (default: all)")
	return cmd
}

// csvRow renders scalar values as text and nested values as JSON.
func csvRow(r models.Record, headers []string) []string {
	row := make([]string, len(headers))
	for i, h := range headers {
		v := r.Value(h)
		switch v.Kind() {
		case models.KindNull:
			row[i] = ""
		case models.KindList, models.KindMap:
			b, err := v.MarshalJSON()
			if err != nil {
				row[i] = v.String()
				continue
			}
			row[i] = string(b)
		default:
			row[i] = v.String()
		}
	}
	return row
}
