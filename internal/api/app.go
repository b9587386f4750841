package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pearldiveja/archivefever/internal/pipeline"
	"github.com/pearldiveja/archivefever/internal/storage"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB
	defaultPageSize    = 50
	maxPageSize        = 500
)

// Runner executes project runs. Satisfied by *pipeline.Orchestrator.
type Runner interface {
	DiscoverAndIngest(ctx context.Context, projectID string) (pipeline.RunSummary, error)
	ListDiscoveredSources(ctx context.Context, projectID string) ([]storage.DiscoveredSource, error)
}

type AppDeps struct {
	Store  *storage.Store
	Runner Runner
	Token  string
}

// NewAppHandler returns the REST API. Everything except /health requires the
// bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/projects", handleCreateProject(deps))
		r.Get("/projects", handleListProjects(deps))
		r.Get("/projects/{id}", handleGetProject(deps))
		r.Post("/projects/{id}/runs", handleStartRun(deps))
		r.Get("/projects/{id}/runs", handleListRuns(deps))
		r.Get("/projects/{id}/sources", handleListSources(deps))
		r.Get("/library", handleListLibrary(deps))
		r.Get("/library/{id}", handleGetLibraryText(deps))
		r.Get("/stats", handleStats(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type createProjectRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	SearchTerms []string `json:"searchTerms"`
}

func handleCreateProject(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req createProjectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		p, err := newProject(req.Title, req.Description, req.SearchTerms)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err := deps.Store.SaveProject(p); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save project: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, toProjectView(p))
	}
}

func handleListProjects(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projects, err := deps.Store.ListProjects()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list projects: %v", err)
			return
		}
		out := make([]projectView, len(projects))
		for i, p := range projects {
			out[i] = toProjectView(p)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleGetProject(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Store.GetProject(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "project not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get project: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, toProjectView(p))
	}
}

func handleStartRun(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := deps.Runner.DiscoverAndIngest(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			code, errType := runErrorStatus(err)
			httpError(w, code, errType, "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

// runErrorStatus maps run-level pipeline errors to HTTP status codes.
func runErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, pipeline.ErrProjectNotFound):
		return http.StatusNotFound, "not_found_error"
	case errors.Is(err, pipeline.ErrConcurrencyConflict):
		return http.StatusConflict, "conflict_error"
	case errors.Is(err, pipeline.ErrProviderUnavailable):
		return http.StatusBadGateway, "provider_error"
	default:
		return http.StatusInternalServerError, "api_error"
	}
}

func handleListRuns(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		_, err := deps.Store.GetProject(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "project not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get project: %v", err)
			return
		}
		limit, _, err := pageParams(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		runs, err := deps.Store.ListRuns(id, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list runs: %v", err)
			return
		}
		out := make([]runView, len(runs))
		for i, run := range runs {
			out[i] = toRunView(run)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleListSources(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sources, err := deps.Runner.ListDiscoveredSources(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, pipeline.ErrProjectNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "project not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list sources: %v", err)
			return
		}
		if state := r.URL.Query().Get("state"); state != "" {
			sources = filterByState(sources, storage.StateKind(state))
		}
		writeJSON(w, http.StatusOK, toSourceViews(sources))
	}
}

func filterByState(sources []storage.DiscoveredSource, kind storage.StateKind) []storage.DiscoveredSource {
	out := sources[:0:0]
	for _, s := range sources {
		if s.State.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

func handleListLibrary(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset, err := pageParams(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		texts, err := deps.Store.ListLibraryTexts(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list library: %v", err)
			return
		}
		out := make([]libraryTextView, len(texts))
		for i, t := range texts {
			out[i] = toLibraryTextView(t, false)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleGetLibraryText(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := deps.Store.GetLibraryText(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "library text not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get library text: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, toLibraryTextView(t, true))
	}
}

type statsView struct {
	Projects     int `json:"projects"`
	LibraryTexts int `json:"libraryTexts"`
}

func handleStats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projects, err := deps.Store.ListProjects()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list projects: %v", err)
			return
		}
		texts, err := deps.Store.CountLibraryTexts()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count library texts: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, statsView{Projects: len(projects), LibraryTexts: texts})
	}
}

// pageParams reads limit and offset query parameters.
func pageParams(r *http.Request) (limit, offset int, err error) {
	limit = defaultPageSize
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit <= 0 {
			return 0, 0, fmt.Errorf("invalid limit %q", v)
		}
		if limit > maxPageSize {
			limit = maxPageSize
		}
	}
	if v := q.Get("offset"); v != "" {
		offset, err = strconv.Atoi(v)
		if err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("invalid offset %q", v)
		}
	}
	return limit, offset, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}
