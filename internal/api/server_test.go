package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/sg-archive/internal/api"
	"github.com/ajitpratap0/sg-archive/internal/mirror"
	"github.com/ajitpratap0/sg-archive/internal/mirror/mirrortest"
)

// newTestServer serves a mirror over a freshly built archive of 60 shots.
func newTestServer(t *testing.T, opts api.Options) *httptest.Server {
	t.Helper()
	root := mirrortest.Build(t, 60)
	m, err := mirror.New(root, mirror.Options{}, mirrortest.Logger())
	require.NoError(t, err)
	if opts.DataDir == "" {
		opts.DataDir = m.DataDir()
	}
	srv := api.NewServer(m, opts, mirrortest.Logger())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func jsonBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewBuffer(b)
}

func doRequest(t *testing.T, method, url string, body *bytes.Buffer, token string) *http.Response {
	t.Helper()
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(context.Background(), method, url, body)
	} else {
		req, err = http.NewRequestWithContext(context.Background(), method, url, http.NoBody)
	}
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestAPI_Healthz(t *testing.T) {
	ts := newTestServer(t, api.Options{})

	resp := doRequest(t, http.MethodGet, ts.URL+"/healthz", nil, "")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode(t, resp)["status"])
}

func TestAPI_AuthRequired(t *testing.T) {
	ts := newTestServer(t, api.Options{AuthToken: "s3cret"})

	resp := doRequest(t, http.MethodGet, ts.URL+"/v1/entity-types", nil, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, ts.URL+"/v1/entity-types", nil, "wrong")
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, ts.URL+"/v1/entity-types", nil, "s3cret")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{"Attachment", "Sequence", "Shot"}, decode(t, resp)["entity_types"])

	// Health stays open.
	resp = doRequest(t, http.MethodGet, ts.URL+"/healthz", nil, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_Find(t *testing.T) {
	ts := newTestServer(t, api.Options{})

	body := jsonBody(t, map[string]any{
		"filters": []any{[]any{"id", "in", []any{3, 51, 999}}},
		"fields":  []string{"code"},
	})
	resp := doRequest(t, http.MethodPost, ts.URL+"/v1/entities/Shot/find", body, "")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decode(t, resp)
	assert.Equal(t, float64(2), out["total"])
	recs, ok := out["records"].([]any)
	require.True(t, ok)
	require.Len(t, recs, 2)
	first, ok := recs[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"type": "Shot", "id": float64(3), "code": "sh003"}, first)
}

func TestAPI_FindRejectsBadFilters(t *testing.T) {
	ts := newTestServer(t, api.Options{})

	body := jsonBody(t, map[string]any{"filters": []any{[]any{"code", "resembles", "a"}}})
	resp := doRequest(t, http.MethodPost, ts.URL+"/v1/entities/Shot/find", body, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doRequest(t, http.MethodPost, ts.URL+"/v1/entities/Shot/find", bytes.NewBufferString("{"), "")
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_FindOneNotFound(t *testing.T) {
	ts := newTestServer(t, api.Options{})

	body := jsonBody(t, map[string]any{"filters": []any{[]any{"code", "is", "nope"}}})
	resp := doRequest(t, http.MethodPost, ts.URL+"/v1/entities/Shot/find_one", body, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_LookupHidesFields(t *testing.T) {
	ts := newTestServer(t, api.Options{HiddenFields: map[string][]string{"Shot": {"sg_cut_in"}}})

	resp := doRequest(t, http.MethodGet, ts.URL+"/v1/entities/Shot/7", nil, "")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	rec := decode(t, resp)
	assert.Equal(t, "sh007", rec["code"])
	assert.NotContains(t, rec, "sg_cut_in")
	assert.Equal(t, false, rec["__retired"])

	resp = doRequest(t, http.MethodGet, ts.URL+"/v1/entities/Shot/abc", nil, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, ts.URL+"/v1/entities/Shot/999", nil, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, ts.URL+"/v1/entities/Version/5", nil, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_ListUsesListFieldsAndPages(t *testing.T) {
	ts := newTestServer(t, api.Options{ListFields: map[string][]string{"Shot": {"code"}}})

	resp := doRequest(t, http.MethodGet, ts.URL+"/v1/entities/Shot?limit=5&offset=10", nil, "")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decode(t, resp)
	assert.Equal(t, float64(60), out["total"])
	recs, ok := out["records"].([]any)
	require.True(t, ok)
	require.Len(t, recs, 5)
	first, ok := recs[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"type": "Shot", "id": float64(19), "code": "sh019"}, first)

	// Records keep the key order of the page files, which sort ids as strings.
	var ids []float64
	for _, r := range recs {
		rec, ok := r.(map[string]any)
		require.True(t, ok)
		ids = append(ids, rec["id"].(float64))
	}
	assert.Equal(t, []float64{19, 2, 20, 21, 22}, ids)

	resp = doRequest(t, http.MethodGet, ts.URL+"/v1/entities/Shot?limit=0", nil, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_FieldsAndStats(t *testing.T) {
	ts := newTestServer(t, api.Options{})

	resp := doRequest(t, http.MethodGet, ts.URL+"/v1/entities/Shot/fields", nil, "")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, decode(t, resp)["fields"], "sg_uploaded_movie")

	resp2 := doRequest(t, http.MethodGet, ts.URL+"/v1/stats", nil, "")
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	var stats []mirror.TypeStats
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&stats))
	require.Len(t, stats, 3)
	assert.Equal(t, "Shot", stats[2].EntityType)
	assert.Equal(t, 60, stats[2].Records)
}

func TestAPI_ServesDataAndMetrics(t *testing.T) {
	ts := newTestServer(t, api.Options{})

	resp := doRequest(t, http.MethodGet, ts.URL+"/data/Attachment/files/this_file/77-a.mov", nil, "")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "payload:/attachments/77", string(payload))

	// Prime a route so the counter has a sample.
	resp2 := doRequest(t, http.MethodGet, ts.URL+"/healthz", nil, "")
	resp2.Body.Close()

	resp3 := doRequest(t, http.MethodGet, ts.URL+"/metrics", nil, "")
	defer resp3.Body.Close()
	require.Equal(t, http.StatusOK, resp3.StatusCode)
	text, err := io.ReadAll(resp3.Body)
	require.NoError(t, err)
	assert.Contains(t, string(text), "sg_archive_api_requests_total")
}
