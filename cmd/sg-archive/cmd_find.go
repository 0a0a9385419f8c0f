package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ajitpratap0/sg-archive/internal/models"
)

func findCmd() *cobra.Command {
	var (
		filterJSON string
		fields     []string
		limit      int
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "find [entity-type]",
		Short: "Query archived records of an entity type without contacting the remote",
		Example: `  sg-archive find Shot --filter '[["sg_status_list", "is", "ip"]]' --fields code,image
  sg-archive find Version --filter '[["id", "in", [1, 2, 3]]]' --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()
			entityType := args[0]

			filters, err := parseFilterFlag(filterJSON)
			if err != nil {
				return fmt.Errorf("find: %w", err)
			}

			m, err := newMirror(logger)
			if err != nil {
				return fmt.Errorf("find: opening archive: %w", err)
			}
			recs, err := m.Find(ctx, entityType, filters, fields)
			if err != nil {
				return fmt.Errorf("find: %w", err)
			}
			total := len(recs)
			if limit > 0 && total > limit {
				recs = recs[:limit]
			}

			if outputJSON {
				out, err := json.MarshalIndent(recs, "", "  ")
				if err != nil {
					return fmt.Errorf("find: marshaling JSON: %w", err)
				}
				fmt.Println(string(out))
				return nil
			}

			if total == 0 {
				fmt.Println("No records found.")
				return nil
			}
			columns := fields
			if columns == nil {
				columns = []string{"code", "name"}
			}
			header := table.Row{"Type", "ID"}
			for _, c := range columns {
				header = append(header, c)
			}
			t := newTable(os.Stdout)
			t.AppendHeader(header)
			for _, r := range recs {
				id, _ := r.ID()
				row := table.Row{r.Type(), id}
				for _, c := range columns {
					row = append(row, truncate(r.Value(c).String(), 60))
				}
				t.AppendRow(row)
			}
			t.Render()
			if len(recs) < total {
				fmt.Printf("Showing %d of %d records.\n", len(recs), total)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&filterJSON, "filter", "", `filters as JSON [field, operator, value] triples`)
	cmd.Flags().StringSliceVar(&fields, "fields", nil, "fields to return (default: all)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max records shown (0 for all)")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")
	return cmd
}

// parseFilterFlag reads the JSON triple form used by the query commands.
func parseFilterFlag(raw string) (models.Filters, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := models.ParseJSON([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("parsing --filter: %w", err)
	}
	return models.ParseFilters(v)
}
