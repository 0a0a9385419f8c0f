package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ajitpratap0/sg-archive/internal/models"
)

func getCmd() *cobra.Command {
	var outputJSON bool

	cmd := &cobra.Command{
		Use:   "get [entity-type] [id]",
		Short: "Retrieve a single archived record by entity type and id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			id, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("get: id must be an integer: %w", err)
			}

			m, err := newMirror(logger)
			if err != nil {
				return fmt.Errorf("get: opening archive: %w", err)
			}
			rec, err := m.Lookup(ctx, args[0], id)
			if err != nil {
				return fmt.Errorf("get: %w", err)
			}

			if outputJSON {
				out, err := json.MarshalIndent(rec, "", "  ")
				if err != nil {
					return fmt.Errorf("get: marshaling JSON: %w", err)
				}
				fmt.Println(string(out))
				return nil
			}

			t := newTable(os.Stdout)
			t.AppendHeader(table.Row{"Field", "Value"})
			rec.Range(func(k string, v models.Value) bool {
				t.AppendRow(table.Row{k, truncate(v.String(), 100)})
				return true
			})
			t.Render()
			return nil
		},
	}

	cmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")
	return cmd
}
