package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/ajitpratap0/sg-archive/internal/metrics"
	"github.com/ajitpratap0/sg-archive/internal/models"
)

const (
	arrayFilterContentType = "application/vnd+shotgun.api3_array+json"
	// maxPageSize is the largest page the REST API serves.
	maxPageSize = 500
)

// RESTConfig holds the connection settings of the REST client.
type RESTConfig struct {
	BaseURL           string
	ScriptName        string
	APIKey            string
	RequestsPerSecond float64
	Timeout           time.Duration
	// MaxRetryElapsed bounds the total time spent retrying one request.
	MaxRetryElapsed time.Duration
}

// RESTClient implements Client against the ShotGrid REST API v1.
type RESTClient struct {
	cfg     RESTConfig
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger

	mu         sync.Mutex
	token      string
	tokenUntil time.Time
	fieldTypes map[string]map[string]string
}

// NewRESTClient creates a client. No request is made until the first call.
func NewRESTClient(cfg RESTConfig, logger *slog.Logger) *RESTClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.MaxRetryElapsed <= 0 {
		cfg.MaxRetryElapsed = 2 * time.Minute
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &RESTClient{
		cfg:        cfg,
		http:       &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger,
		fieldTypes: make(map[string]map[string]string),
	}
}

// statusError carries a non-2xx response.
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("remote returned %d: %s", e.Status, e.Body)
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// SchemaRead returns the field schema of every entity type.
func (c *RESTClient) SchemaRead(ctx context.Context) (*models.Map, error) {
	entities, err := c.SchemaEntityRead(ctx)
	if err != nil {
		return nil, err
	}
	out := models.NewMap()
	for _, entityType := range entities.Keys() {
		fields, err := c.schemaFields(ctx, entityType)
		if err != nil {
			return nil, err
		}
		out.Set(entityType, models.MapValue(fields))
	}
	return out, nil
}

// SchemaEntityRead returns the entity schema.
func (c *RESTClient) SchemaEntityRead(ctx context.Context) (*models.Map, error) {
	data, err := c.call(ctx, "schema_entity_read", http.MethodGet, "/api/v1/schema", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("reading entity schema: %w", err)
	}
	m, ok := data.AsMap()
	if !ok {
		return nil, fmt.Errorf("reading entity schema: unexpected %s payload", data.Kind())
	}
	return m, nil
}

func (c *RESTClient) schemaFields(ctx context.Context, entityType string) (*models.Map, error) {
	data, err := c.call(ctx, "schema_read", http.MethodGet, "/api/v1/schema/"+url.PathEscape(entityType)+"/fields", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("reading %s field schema: %w", entityType, err)
	}
	fields, ok := data.AsMap()
	if !ok {
		return nil, fmt.Errorf("reading %s field schema: unexpected %s payload", entityType, data.Kind())
	}
	types := make(map[string]string, fields.Len())
	fields.Range(func(name string, v models.Value) bool {
		props, _ := v.AsMap()
		types[name] = models.FieldFromProps(name, props).DataType
		return true
	})
	c.mu.Lock()
	c.fieldTypes[entityType] = types
	c.mu.Unlock()
	return fields, nil
}

func (c *RESTClient) dataTypes(ctx context.Context, entityType string) (map[string]string, error) {
	c.mu.Lock()
	types, ok := c.fieldTypes[entityType]
	c.mu.Unlock()
	if ok {
		return types, nil
	}
	if _, err := c.schemaFields(ctx, entityType); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fieldTypes[entityType], nil
}

// Count returns the number of matching records.
func (c *RESTClient) Count(ctx context.Context, entityType string, filters models.Filters) (int, error) {
	body := map[string]any{
		"filters":        filters.Value(),
		"summary_fields": []map[string]string{{"field": "id", "type": "count"}},
	}
	data, err := c.call(ctx, "count", http.MethodPost, entityPath(entityType, "_summarize"), nil, body)
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", entityType, err)
	}
	summaries, _ := data.AsMap()
	inner, _ := summaries.Value("summaries").AsMap()
	n, ok := inner.Value("id").AsInt()
	if !ok {
		return 0, fmt.Errorf("counting %s: summary missing id count", entityType)
	}
	return int(n), nil
}

// FetchPage returns one page of records ordered by id.
func (c *RESTClient) FetchPage(ctx context.Context, entityType string, filters models.Filters, fields []string, pageSize, page int) ([]models.Record, error) {
	if pageSize <= 0 || pageSize > maxPageSize {
		return nil, fmt.Errorf("page size %d out of range 1..%d", pageSize, maxPageSize)
	}
	records, err := c.search(ctx, entityType, filters, fields, pageSize, page)
	if err != nil {
		return nil, fmt.Errorf("fetching %s page %d: %w", entityType, page, err)
	}
	return records, nil
}

// FetchByIDs fetches records by id, chunking the id list to the maximum page size.
func (c *RESTClient) FetchByIDs(ctx context.Context, entityType string, ids []int64, fields []string) ([]models.Record, error) {
	var out []models.Record
	for start := 0; start < len(ids); start += maxPageSize {
		chunk := ids[start:min(start+maxPageSize, len(ids))]
		values := make([]models.Value, len(chunk))
		for i, id := range chunk {
			values[i] = models.Int(id)
		}
		filters := models.Filters{{Field: "id", Operator: models.OpIn, Value: models.List(values...)}}
		records, err := c.search(ctx, entityType, filters, fields, maxPageSize, 1)
		if err != nil {
			return nil, fmt.Errorf("fetching %s by id: %w", entityType, err)
		}
		out = append(out, records...)
	}
	return out, nil
}

func (c *RESTClient) search(ctx context.Context, entityType string, filters models.Filters, fields []string, pageSize, page int) ([]models.Record, error) {
	types, err := c.dataTypes(ctx, entityType)
	if err != nil {
		return nil, err
	}
	if fields == nil {
		fields = make([]string, 0, len(types))
		for name := range types {
			fields = append(fields, name)
		}
	}
	q := url.Values{}
	q.Set("fields", strings.Join(fields, ","))
	q.Set("page[number]", strconv.Itoa(page))
	q.Set("page[size]", strconv.Itoa(pageSize))
	q.Set("sort", "id")
	data, err := c.call(ctx, "fetch", http.MethodPost, entityPath(entityType, "_search"), q, map[string]any{"filters": filters.Value()})
	if err != nil {
		return nil, err
	}
	list, ok := data.AsList()
	if !ok {
		return nil, fmt.Errorf("unexpected %s payload", data.Kind())
	}
	out := make([]models.Record, 0, len(list))
	for _, item := range list {
		rec, err := flatten(item, types)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func entityPath(entityType, action string) string {
	return "/api/v1/entity/" + url.PathEscape(entityType) + "/" + action
}

// flatten turns a JSON:API style resource into a flat record. Attributes typed
// date_time are parsed into time values.
func flatten(item models.Value, types map[string]string) (models.Record, error) {
	res, ok := item.AsMap()
	if !ok {
		return models.Record{}, fmt.Errorf("unexpected resource %s", item.Kind())
	}
	rec := models.NewMap()
	rec.Set("type", res.Value("type"))
	rec.Set("id", res.Value("id"))
	attrs, _ := res.Value("attributes").AsMap()
	var ferr error
	attrs.Range(func(k string, v models.Value) bool {
		if types[k] == "date_time" {
			if s, ok := v.AsString(); ok && s != "" {
				t, err := time.Parse(time.RFC3339, s)
				if err != nil {
					ferr = fmt.Errorf("field %s: %w", k, err)
					return false
				}
				v = models.Time(t)
			}
		}
		rec.Set(k, v)
		return true
	})
	if ferr != nil {
		return models.Record{}, ferr
	}
	rels, _ := res.Value("relationships").AsMap()
	rels.Range(func(k string, v models.Value) bool {
		rel, _ := v.AsMap()
		rec.Set(k, stripLinks(rel.Value("data")))
		return true
	})
	return models.AsRecord(rec), nil
}

// stripLinks drops the "links" member the REST API adds to relationship data.
func stripLinks(v models.Value) models.Value {
	if m, ok := v.AsMap(); ok {
		m.Delete("links")
		return v
	}
	if list, ok := v.AsList(); ok {
		for _, e := range list {
			if m, ok := e.AsMap(); ok {
				m.Delete("links")
			}
		}
	}
	return v
}

// call performs one API request with rate limiting, token refresh and retries, and
// returns the "data" member of the response.
func (c *RESTClient) call(ctx context.Context, op, method, path string, query url.Values, body any) (models.Value, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return models.Null(), fmt.Errorf("encoding request: %w", err)
		}
	}

	var result models.Value
	refreshed := false
	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		token, err := c.accessToken(ctx)
		if err != nil {
			return err
		}
		v, err := c.send(ctx, method, path, query, payload, token)
		var se *statusError
		switch {
		case err == nil:
			result = v
			return nil
		case errors.As(err, &se) && se.Status == http.StatusUnauthorized && !refreshed:
			refreshed = true
			c.invalidateToken()
			return err
		case errors.As(err, &se) && se.Status == http.StatusNotFound:
			return backoff.Permanent(fmt.Errorf("%w: %s", ErrNotFound, se.Body))
		case errors.As(err, &se) && !retryable(se.Status):
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.cfg.MaxRetryElapsed
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("remote request failed, retrying", "op", op, "path", path, "wait", wait, "error", err)
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify); err != nil {
		metrics.Inc(metrics.RemoteRequests, op, "error")
		return models.Null(), err
	}
	metrics.Inc(metrics.RemoteRequests, op, "ok")
	return result, nil
}

func (c *RESTClient) send(ctx context.Context, method, path string, query url.Values, payload []byte, token string) (models.Value, error) {
	u := strings.TrimRight(c.cfg.BaseURL, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var body io.Reader = http.NoBody
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return models.Null(), backoff.Permanent(fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", arrayFilterContentType)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return models.Null(), fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.Null(), fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return models.Null(), &statusError{Status: resp.StatusCode, Body: truncate(string(raw), 512)}
	}
	doc, err := models.ParseJSON(raw)
	if err != nil {
		return models.Null(), backoff.Permanent(fmt.Errorf("decoding response: %w", err))
	}
	m, _ := doc.AsMap()
	return m.Value("data"), nil
}

func (c *RESTClient) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// accessToken returns a cached bearer token, requesting a new one with the script
// credentials when it is missing or about to expire.
func (c *RESTClient) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token != "" && time.Now().Before(c.tokenUntil) {
		token := c.token
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.cfg.ScriptName)
	form.Set("client_secret", c.cfg.APIKey)
	u := strings.TrimRight(c.cfg.BaseURL, "/") + "/api/v1/auth/access_token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(form.Encode()))
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("building token request: %w", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting token: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		se := &statusError{Status: resp.StatusCode, Body: truncate(string(raw), 512)}
		if retryable(se.Status) {
			return "", se
		}
		return "", backoff.Permanent(fmt.Errorf("authenticating: %w", se))
	}
	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(raw, &tok); err != nil {
		return "", backoff.Permanent(fmt.Errorf("decoding token: %w", err))
	}
	if tok.ExpiresIn <= 0 {
		tok.ExpiresIn = 600
	}
	c.mu.Lock()
	c.token = tok.AccessToken
	// refresh a little early
	c.tokenUntil = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - 30*time.Second)
	c.mu.Unlock()
	c.logger.Debug("obtained access token", "expires_in", tok.ExpiresIn)
	return tok.AccessToken, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
