package mcp_test

import (
	"context"
	"encoding/json"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	archivemcp "github.com/ajitpratap0/sg-archive/internal/mcp"
	"github.com/ajitpratap0/sg-archive/internal/mirror"
	"github.com/ajitpratap0/sg-archive/internal/mirror/mirrortest"
)

// newMCPServer returns a Server over a freshly built archive of 60 shots.
func newMCPServer(t *testing.T) *archivemcp.Server {
	t.Helper()
	m, err := mirror.New(mirrortest.Build(t, 60), mirror.Options{}, mirrortest.Logger())
	require.NoError(t, err)
	return archivemcp.NewServer(m, "test", mirrortest.Logger())
}

// makeReq builds a CallToolRequest with the given arguments.
func makeReq(toolName string, args map[string]any) mcpgo.CallToolRequest {
	req := mcpgo.CallToolRequest{}
	req.Params.Name = toolName
	req.Params.Arguments = args
	return req
}

// textContent extracts the first TextContent string from a CallToolResult.
func textContent(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content item")
	tc, ok := result.Content[0].(mcpgo.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func decodeResult(t *testing.T, result *mcpgo.CallToolResult) map[string]any {
	t.Helper()
	require.False(t, result.IsError, "tool returned error: %s", textContent(t, result))
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &out))
	return out
}

func TestMCPFind_FiltersProjectsAndLimits(t *testing.T) {
	srv := newMCPServer(t)

	result, err := srv.HandleFind(context.Background(), makeReq("find", map[string]any{
		"entity_type": "Shot",
		"filters":     `[["sg_sequence", "is", {"type": "Sequence", "id": 1}]]`,
		"fields":      "code, sg_cut_in",
		"limit":       float64(3),
	}))
	require.NoError(t, err)

	out := decodeResult(t, result)
	assert.Equal(t, float64(60), out["total"])
	recs, ok := out["records"].([]any)
	require.True(t, ok)
	require.Len(t, recs, 3)
	assert.Equal(t, map[string]any{"type": "Shot", "id": float64(1), "code": "sh001", "sg_cut_in": float64(1001)}, recs[0])
}

func TestMCPFind_InvalidInput(t *testing.T) {
	srv := newMCPServer(t)
	ctx := context.Background()

	result, err := srv.HandleFind(ctx, makeReq("find", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = srv.HandleFind(ctx, makeReq("find", map[string]any{"entity_type": "Shot", "filters": "[["}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, textContent(t, result), "invalid filters")

	result, err = srv.HandleFind(ctx, makeReq("find", map[string]any{"entity_type": "Version"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, textContent(t, result), "unknown entity type")
}

func TestMCPFindOne(t *testing.T) {
	srv := newMCPServer(t)
	ctx := context.Background()

	result, err := srv.HandleFindOne(ctx, makeReq("find_one", map[string]any{
		"entity_type": "Shot",
		"filters":     `[["code", "is", "sh042"]]`,
	}))
	require.NoError(t, err)
	out := decodeResult(t, result)
	assert.Equal(t, float64(42), out["id"])
	assert.Equal(t, false, out["__retired"])

	result, err = srv.HandleFindOne(ctx, makeReq("find_one", map[string]any{
		"entity_type": "Shot",
		"filters":     `[["code", "is", "nope"]]`,
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestMCPLookup(t *testing.T) {
	srv := newMCPServer(t)
	ctx := context.Background()

	result, err := srv.HandleLookup(ctx, makeReq("lookup", map[string]any{"entity_type": "Attachment", "id": float64(77)}))
	require.NoError(t, err)
	out := decodeResult(t, result)
	tf, ok := out["this_file"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "files/this_file/77-a.mov", tf["local_path"])

	result, err = srv.HandleLookup(ctx, makeReq("lookup", map[string]any{"entity_type": "Shot"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestMCPFieldNamesAndEntityTypes(t *testing.T) {
	srv := newMCPServer(t)
	ctx := context.Background()

	result, err := srv.HandleFieldNames(ctx, makeReq("field_names", map[string]any{"entity_type": "Sequence"}))
	require.NoError(t, err)
	assert.Equal(t, []any{"code"}, decodeResult(t, result)["fields"])

	result, err = srv.HandleEntityTypes(ctx, makeReq("entity_types", nil))
	require.NoError(t, err)
	types, ok := decodeResult(t, result)["entity_types"].([]any)
	require.True(t, ok)
	require.Len(t, types, 3)
	shot, ok := types[2].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Shot", shot["entity_type"])
	assert.Equal(t, float64(60), shot["records"])
}

func TestMCPNilQuerier(t *testing.T) {
	srv := archivemcp.NewServer(nil, "test", mirrortest.Logger())
	result, err := srv.HandleEntityTypes(context.Background(), makeReq("entity_types", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.NotNil(t, srv.MCPServer())
}
