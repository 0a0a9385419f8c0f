package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	mcpserver "github.com/mark3labs/mcp-go/server"

	archivemcp "github.com/ajitpratap0/sg-archive/internal/mcp"
)

func mcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP (Model Context Protocol) server over stdio",
		Long: `Starts an MCP JSON-RPC 2.0 server that reads from stdin and writes to stdout.
All diagnostic logs go to stderr so that stdout remains exclusively MCP protocol traffic.

Tools exposed:
  find          records of an entity type matching filters
  find_one      the first matching record
  lookup        one record by entity type and id
  field_names   archived field names of an entity type
  entity_types  archived entity types with record and page counts

The archive is read from the configured output directory; the remote is never contacted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger()

			m, err := newMirror(logger)
			if err != nil {
				return fmt.Errorf("mcp: opening archive: %w", err)
			}

			srv := archivemcp.NewServer(m, version, logger)

			// Use a standard log.Logger pointing at stderr for the mcp-go error logger.
			errLogger := log.New(os.Stderr, "mcp: ", log.LstdFlags)

			logger.Info("mcp: sg-archive MCP server starting", "transport", "stdio", "archive", m.Root())

			return mcpserver.ServeStdio(
				srv.MCPServer(),
				mcpserver.WithErrorLogger(errLogger),
			)
		},
	}

	return cmd
}
