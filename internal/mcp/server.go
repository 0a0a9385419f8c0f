// Package mcp implements the Model Context Protocol server over the local archive mirror.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ajitpratap0/sg-archive/internal/mirror"
	"github.com/ajitpratap0/sg-archive/internal/models"
)

const (
	// defaultFindLimit caps find results when the caller sets no limit.
	defaultFindLimit = 50

	// maxFindLimit bounds the records returned by one find call.
	maxFindLimit = 1000
)

// Server wraps an MCPServer with the archive mirror.
type Server struct {
	mcp    *mcpserver.MCPServer
	q      mirror.Querier
	logger *slog.Logger
}

// NewServer creates a new MCP server. If q is nil, tool calls return an error
// response instead of panicking.
func NewServer(q mirror.Querier, version string, logger *slog.Logger) *Server {
	s := &Server{
		q:      q,
		logger: logger,
	}

	mcpSrv := mcpserver.NewMCPServer(
		"sg-archive",
		version,
		mcpserver.WithToolCapabilities(true),
	)

	mcpSrv.AddTool(buildFindTool(), s.handleFind)
	mcpSrv.AddTool(buildFindOneTool(), s.handleFindOne)
	mcpSrv.AddTool(buildLookupTool(), s.handleLookup)
	mcpSrv.AddTool(buildFieldNamesTool(), s.handleFieldNames)
	mcpSrv.AddTool(buildEntityTypesTool(), s.handleEntityTypes)

	s.mcp = mcpSrv
	return s
}

// MCPServer returns the underlying mcp-go MCPServer for use with ServeStdio.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcp
}

// HandleFind is the exported handler for the "find" tool.
// It is exposed for direct testing without the mcp-go transport layer.
func (s *Server) HandleFind(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleFind(ctx, req)
}

// HandleFindOne is the exported handler for the "find_one" tool.
func (s *Server) HandleFindOne(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleFindOne(ctx, req)
}

// HandleLookup is the exported handler for the "lookup" tool.
func (s *Server) HandleLookup(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleLookup(ctx, req)
}

// HandleFieldNames is the exported handler for the "field_names" tool.
func (s *Server) HandleFieldNames(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleFieldNames(ctx, req)
}

// HandleEntityTypes is the exported handler for the "entity_types" tool.
func (s *Server) HandleEntityTypes(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleEntityTypes(ctx, req)
}

// --- helpers ---

// toolResultJSON marshals v to JSON and returns it as a tool text result.
func toolResultJSON(v any) (*mcpgo.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("mcp: marshaling result: %w", err)
	}
	return mcpgo.NewToolResultText(string(b)), nil
}

// parseFilters reads the JSON triple form, e.g. [["code", "is", "sh010"]]. Empty means no conditions.
func parseFilters(raw string) (models.Filters, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	v, err := models.ParseJSON([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("filters must be JSON: %w", err)
	}
	return models.ParseFilters(v)
}

// parseFields splits a comma-separated field list. Empty means every field.
func parseFields(raw string) []string {
	var out []string
	for _, f := range strings.Split(raw, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// queryError turns a mirror error into a tool error result.
func queryError(op, entityType string, err error) *mcpgo.CallToolResult {
	switch {
	case errors.Is(err, models.ErrUnknownEntityType):
		return mcpgo.NewToolResultErrorf("unknown entity type %q", entityType)
	case errors.Is(err, mirror.ErrNotFound):
		return mcpgo.NewToolResultErrorf("no %s record found", entityType)
	}
	return mcpgo.NewToolResultErrorf("%s failed: %s", op, err.Error())
}

// --- tool definitions ---

func withEntityType() mcpgo.ToolOption {
	return mcpgo.WithString("entity_type",
		mcpgo.Required(),
		mcpgo.Description("Entity type name, e.g. Shot, Asset, Version"),
	)
}

func withFilters() mcpgo.ToolOption {
	return mcpgo.WithString("filters",
		mcpgo.Description(`JSON list of [field, operator, value] conditions, e.g. [["code", "is", "sh010"], ["id", "in", [1, 2]]]. Operators: is, is_not, in, not_in, contains, greater_than, less_than`),
	)
}

func withFields() mcpgo.ToolOption {
	return mcpgo.WithString("fields",
		mcpgo.Description("Comma-separated field names to return (default: all fields). type and id are always included"),
	)
}

func buildFindTool() mcpgo.Tool {
	return mcpgo.NewTool("find",
		mcpgo.WithDescription("Find archived records of an entity type matching all filters."),
		withEntityType(),
		withFilters(),
		withFields(),
		mcpgo.WithNumber("limit",
			mcpgo.Description("Maximum number of records (default: 50, max: 1000)"),
		),
	)
}

func buildFindOneTool() mcpgo.Tool {
	return mcpgo.NewTool("find_one",
		mcpgo.WithDescription("Return the first archived record of an entity type matching all filters."),
		withEntityType(),
		withFilters(),
		withFields(),
	)
}

func buildLookupTool() mcpgo.Tool {
	return mcpgo.NewTool("lookup",
		mcpgo.WithDescription("Return one archived record by entity type and id."),
		withEntityType(),
		mcpgo.WithNumber("id",
			mcpgo.Required(),
			mcpgo.Description("Record id"),
		),
	)
}

func buildFieldNamesTool() mcpgo.Tool {
	return mcpgo.NewTool("field_names",
		mcpgo.WithDescription("List the archived field names of an entity type."),
		withEntityType(),
	)
}

func buildEntityTypesTool() mcpgo.Tool {
	return mcpgo.NewTool("entity_types",
		mcpgo.WithDescription("List archived entity types with record and page counts."),
	)
}

// --- tool handlers ---

// handleFind returns matching records up to limit.
func (s *Server) handleFind(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.q == nil {
		return mcpgo.NewToolResultError("archive is unavailable"), nil
	}
	entityType := req.GetString("entity_type", "")
	if strings.TrimSpace(entityType) == "" {
		return mcpgo.NewToolResultError("entity_type is required and must not be empty"), nil
	}
	filters, err := parseFilters(req.GetString("filters", ""))
	if err != nil {
		return mcpgo.NewToolResultErrorf("invalid filters: %s", err.Error()), nil
	}
	limit := req.GetInt("limit", defaultFindLimit)
	if limit <= 0 {
		limit = defaultFindLimit
	}
	limit = min(limit, maxFindLimit)

	recs, err := s.q.Find(ctx, entityType, filters, parseFields(req.GetString("fields", "")))
	if err != nil {
		return queryError("find", entityType, err), nil
	}
	total := len(recs)
	if total > limit {
		recs = recs[:limit]
	}
	s.logger.Debug("mcp: find", "entity_type", entityType, "conditions", len(filters), "total", total)

	result := map[string]any{
		"entity_type": entityType,
		"total":       total,
		"records":     recs,
	}
	return toolResultJSON(result)
}

// handleFindOne returns the first matching record.
func (s *Server) handleFindOne(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.q == nil {
		return mcpgo.NewToolResultError("archive is unavailable"), nil
	}
	entityType := req.GetString("entity_type", "")
	if strings.TrimSpace(entityType) == "" {
		return mcpgo.NewToolResultError("entity_type is required and must not be empty"), nil
	}
	filters, err := parseFilters(req.GetString("filters", ""))
	if err != nil {
		return mcpgo.NewToolResultErrorf("invalid filters: %s", err.Error()), nil
	}

	rec, err := s.q.FindOne(ctx, entityType, filters, parseFields(req.GetString("fields", "")))
	if err != nil {
		return queryError("find_one", entityType, err), nil
	}
	return toolResultJSON(rec)
}

// handleLookup returns one record by id.
func (s *Server) handleLookup(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.q == nil {
		return mcpgo.NewToolResultError("archive is unavailable"), nil
	}
	entityType := req.GetString("entity_type", "")
	if strings.TrimSpace(entityType) == "" {
		return mcpgo.NewToolResultError("entity_type is required and must not be empty"), nil
	}
	id := req.GetInt("id", 0)
	if id <= 0 {
		return mcpgo.NewToolResultError("id is required and must be positive"), nil
	}

	rec, err := s.q.Lookup(ctx, entityType, int64(id))
	if err != nil {
		return queryError("lookup", entityType, err), nil
	}
	return toolResultJSON(rec)
}

// handleFieldNames lists the fields of an entity type.
func (s *Server) handleFieldNames(_ context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.q == nil {
		return mcpgo.NewToolResultError("archive is unavailable"), nil
	}
	entityType := req.GetString("entity_type", "")
	if strings.TrimSpace(entityType) == "" {
		return mcpgo.NewToolResultError("entity_type is required and must not be empty"), nil
	}

	names, err := s.q.FieldNamesFor(entityType)
	if err != nil {
		return queryError("field_names", entityType, err), nil
	}
	result := map[string]any{
		"entity_type": entityType,
		"fields":      names,
	}
	return toolResultJSON(result)
}

// handleEntityTypes returns per entity type archive statistics.
func (s *Server) handleEntityTypes(ctx context.Context, _ mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.q == nil {
		return mcpgo.NewToolResultError("archive is unavailable"), nil
	}

	stats, err := s.q.Stats(ctx)
	if err != nil {
		return mcpgo.NewToolResultErrorf("stats failed: %s", err.Error()), nil
	}
	return toolResultJSON(map[string]any{"entity_types": stats})
}
