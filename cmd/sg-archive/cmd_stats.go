package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func statsCmd() *cobra.Command {
	var outputJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show record and page counts of the archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			m, err := newMirror(logger)
			if err != nil {
				return fmt.Errorf("stats: opening archive: %w", err)
			}
			stats, err := m.Stats(ctx)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}

			if outputJSON {
				out, err := json.MarshalIndent(stats, "", "  ")
				if err != nil {
					return fmt.Errorf("stats: marshaling JSON: %w", err)
				}
				fmt.Println(string(out))
				return nil
			}

			fmt.Printf("Archive: %s\n\n", m.Root())
			t := newTable(os.Stdout)
			t.AppendHeader(table.Row{"Entity Type", "Display Name", "Records", "Pages"})
			var records, pages int
			for _, s := range stats {
				t.AppendRow(table.Row{s.EntityType, s.DisplayName, s.Records, s.Pages})
				records += s.Records
				pages += s.Pages
			}
			t.AppendFooter(table.Row{"Total", "", records, pages})
			t.Render()
			return nil
		},
	}

	cmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")
	return cmd
}
