package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ajitpratap0/sg-archive/internal/metrics"
	"github.com/ajitpratap0/sg-archive/internal/mirror"
	"github.com/ajitpratap0/sg-archive/internal/models"
)

// DefaultListLimit caps list responses when the request sets no limit.
const DefaultListLimit = 100

// Options configures the HTTP API.
type Options struct {
	// AuthToken enables bearer authentication on /v1 routes. Empty means no auth.
	AuthToken string
	// DataDir is served read-only under /data so file:// paths have an HTTP twin.
	DataDir string
	// ListFields selects the fields returned by list requests, per entity type.
	ListFields map[string][]string
	// HiddenFields are removed from record responses, per entity type.
	HiddenFields map[string][]string
}

// Server is an HTTP API server that exposes read-only queries over the local mirror.
type Server struct {
	mirror mirror.Querier
	opts   Options
	logger *slog.Logger
}

// NewServer creates a new Server over q.
func NewServer(q mirror.Querier, opts Options, logger *slog.Logger) *Server {
	return &Server{
		mirror: q,
		opts:   opts,
		logger: logger,
	}
}

// Handler returns an http.Handler with all routes registered.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	// Health check and metrics, no auth required.
	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	if s.opts.DataDir != "" {
		r.Handle("/data/*", http.StripPrefix("/data/", http.FileServer(http.Dir(s.opts.DataDir))))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.auth)
		r.Get("/entity-types", s.handleEntityTypes)
		r.Get("/stats", s.handleStats)
		r.Route("/entities/{type}", func(r chi.Router) {
			r.Get("/", s.handleList)
			r.Get("/fields", s.handleFields)
			r.Post("/find", s.handleFind)
			r.Post("/find_one", s.handleFindOne)
			r.Get("/{id}", s.handleLookup)
		})
	})

	return r
}

// --- middleware ---

// auth enforces Bearer token authentication when authToken is set.
func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.AuthToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.AuthToken)) != 1 {
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// instrument records request counts and latency by route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.Inc(metrics.APIRequests, route, strconv.Itoa(status))
		metrics.APIRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// --- handlers ---

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// entityTypesResponse is returned by GET /v1/entity-types.
type entityTypesResponse struct {
	EntityTypes []string `json:"entity_types"`
}

func (s *Server) handleEntityTypes(w http.ResponseWriter, _ *http.Request) {
	types, err := s.mirror.EntityTypes()
	if err != nil {
		s.logger.Error("failed to list entity types", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list entity types")
		return
	}
	if types == nil {
		types = []string{}
	}
	s.writeJSON(w, http.StatusOK, entityTypesResponse{EntityTypes: types})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.mirror.Stats(r.Context())
	if err != nil {
		s.logger.Error("failed to get stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// fieldsResponse is returned by GET /v1/entities/{type}/fields.
type fieldsResponse struct {
	EntityType string   `json:"entity_type"`
	Fields     []string `json:"fields"`
}

func (s *Server) handleFields(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "type")
	names, err := s.mirror.FieldNamesFor(entityType)
	if err != nil {
		s.queryError(w, entityType, err)
		return
	}
	s.writeJSON(w, http.StatusOK, fieldsResponse{EntityType: entityType, Fields: names})
}

// findRequest is the body accepted by POST /v1/entities/{type}/find and find_one.
// Filters use the [field, operator, value] triple form.
type findRequest struct {
	Filters models.Value `json:"filters"`
	Fields  []string     `json:"fields"`
	Limit   int          `json:"limit"`
}

// recordsResponse is returned by list and find requests.
type recordsResponse struct {
	EntityType string          `json:"entity_type"`
	Total      int             `json:"total"`
	Records    []models.Record `json:"records"`
}

func (s *Server) decodeFind(w http.ResponseWriter, r *http.Request) (findRequest, models.Filters, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	var req findRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return req, nil, false
	}
	filters, err := models.ParseFilters(req.Filters)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return req, nil, false
	}
	return req, filters, true
}

func (s *Server) handleFind(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "type")
	req, filters, ok := s.decodeFind(w, r)
	if !ok {
		return
	}
	recs, err := s.mirror.Find(r.Context(), entityType, filters, req.Fields)
	if err != nil {
		s.queryError(w, entityType, err)
		return
	}
	total := len(recs)
	if req.Limit > 0 && len(recs) > req.Limit {
		recs = recs[:req.Limit]
	}
	s.writeJSON(w, http.StatusOK, recordsResponse{EntityType: entityType, Total: total, Records: s.hide(entityType, recs)})
}

func (s *Server) handleFindOne(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "type")
	req, filters, ok := s.decodeFind(w, r)
	if !ok {
		return
	}
	rec, err := s.mirror.FindOne(r.Context(), entityType, filters, req.Fields)
	if err != nil {
		s.queryError(w, entityType, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.hide(entityType, []models.Record{rec})[0])
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "type")
	limit, err := queryInt(r, "limit", DefaultListLimit)
	if err != nil || limit <= 0 {
		s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		s.writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	recs, err := s.mirror.Find(r.Context(), entityType, nil, s.opts.ListFields[entityType])
	if err != nil {
		s.queryError(w, entityType, err)
		return
	}
	total := len(recs)
	recs = recs[min(offset, total):min(offset+limit, total)]
	s.writeJSON(w, http.StatusOK, recordsResponse{EntityType: entityType, Total: total, Records: s.hide(entityType, recs)})
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "type")
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "id must be an integer")
		return
	}
	rec, err := s.mirror.Lookup(r.Context(), entityType, id)
	if err != nil {
		s.queryError(w, entityType, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.hide(entityType, []models.Record{rec})[0])
}

// --- helpers ---

// hide drops the configured hidden fields. Records from the mirror are copies.
func (s *Server) hide(entityType string, recs []models.Record) []models.Record {
	hidden := s.opts.HiddenFields[entityType]
	if len(hidden) == 0 {
		return recs
	}
	for _, rec := range recs {
		for _, f := range rec.Keys() {
			if slices.Contains(hidden, f) {
				rec.Delete(f)
			}
		}
	}
	return recs
}

// queryError maps mirror errors to HTTP statuses.
func (s *Server) queryError(w http.ResponseWriter, entityType string, err error) {
	switch {
	case errors.Is(err, models.ErrUnknownEntityType):
		s.writeError(w, http.StatusNotFound, "unknown entity type "+entityType)
	case errors.Is(err, mirror.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "record not found")
	default:
		s.logger.Error("mirror query failed", "entity_type", entityType, "error", err)
		s.writeError(w, http.StatusInternalServerError, "query failed")
	}
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

// writeJSON encodes v as JSON and writes it to w with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(v); encErr != nil {
		s.logger.Error("failed to encode response", "error", encErr)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// Shutdown gracefully shuts down an http.Server with the given timeout.
// This is a convenience helper used by the serve command.
func Shutdown(srv *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
