package main

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the filtered entity types and their display names found in the schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			client, err := newRemote(logger)
			if err != nil {
				return fmt.Errorf("list: %w", err)
			}
			a, err := newArchiver(client, logger)
			if err != nil {
				return fmt.Errorf("list: %w", err)
			}

			es, err := a.EntitySchema(ctx)
			if err != nil {
				return fmt.Errorf("list: reading entity schema: %w", err)
			}

			t := newTable(os.Stdout)
			t.AppendHeader(table.Row{"Code Name", "Display Name", "Archived"})
			for _, name := range es.EntityTypes() {
				display := es.DisplayName(name)
				if display == name {
					display = ""
				}
				archived := ""
				if a.IsArchived(name) {
					archived = "yes"
				}
				t.AppendRow(table.Row{name, display, archived})
			}
			t.Render()
			return nil
		},
	}
}
