package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/mnemo/internal/models"
	"github.com/starford/mnemo/internal/search"
	"github.com/starford/mnemo/internal/service"
)

// Handler holds API route handlers.
type Handler struct {
	svc *service.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

func intParam(r *http.Request, name string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(name))
	return n
}

// Search handles GET /api/search.
//
//	@Summary		Keyword search across projects
//	@Tags			search
//	@Produce		json
//	@Param			q			query		string	false	"Search query"
//	@Param			type		query		string	false	"Result kind"	Enums(files, functions, observations)
//	@Param			project		query		string	false	"Restrict to one project"
//	@Param			category	query		string	false	"Observation category"
//	@Param			limit		query		int		false	"Maximum results"
//	@Success		200			{object}	SearchResponse
//	@Failure		400			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	kind, err := search.ParseKind(q.Get("type"))
	if err != nil {
		writeError(w, "search", err)
		return
	}
	resp, err := h.svc.Search(r.Context(), search.Request{
		Query:     q.Get("q"),
		Kind:      kind,
		ProjectID: q.Get("project"),
		Category:  models.Category(q.Get("category")),
		Limit:     intParam(r, "limit"),
	})
	if err != nil {
		writeError(w, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListProjects handles GET /api/projects.
//
//	@Summary		List configured projects with index statistics
//	@Tags			projects
//	@Produce		json
//	@Success		200	{object}	ProjectListResponse
//	@Security		BearerAuth
//	@Router			/projects [get]
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.svc.Projects(r.Context())
	if err != nil {
		writeError(w, "list projects", err)
		return
	}
	writeJSON(w, http.StatusOK, ProjectListResponse{Projects: projects})
}

// Similar handles GET /api/projects/{id}/similar.
//
//	@Summary		Files semantically closest to a given file
//	@Tags			projects
//	@Produce		json
//	@Param			id		path		string	true	"Project id"
//	@Param			path	query		string	true	"File path inside the project"
//	@Param			limit	query		int		false	"Maximum results"
//	@Success		200		{object}	SemanticResponse
//	@Failure		404		{object}	errResponse
//	@Failure		503		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/projects/{id}/similar [get]
func (h *Handler) Similar(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	hits, err := h.svc.Similar(r.Context(), id, r.URL.Query().Get("path"), intParam(r, "limit"))
	if err != nil {
		writeError(w, "similar", err)
		return
	}
	writeJSON(w, http.StatusOK, SemanticResponse{ProjectID: id, Results: hits})
}

// Ask handles GET /api/projects/{id}/ask.
//
//	@Summary		Semantic search within one project
//	@Tags			projects
//	@Produce		json
//	@Param			id		path		string	true	"Project id"
//	@Param			q		query		string	true	"Natural-language query"
//	@Param			limit	query		int		false	"Maximum results"
//	@Success		200		{object}	SemanticResponse
//	@Failure		400		{object}	errResponse
//	@Failure		502		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/projects/{id}/ask [get]
func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	hits, err := h.svc.Semantic(r.Context(), id, q, intParam(r, "limit"))
	if err != nil {
		writeError(w, "ask", err)
		return
	}
	writeJSON(w, http.StatusOK, SemanticResponse{ProjectID: id, Results: hits})
}

// Freshness handles GET /api/projects/{id}/freshness.
//
//	@Summary		Check whether a project's indexes lag its source tree
//	@Tags			projects
//	@Produce		json
//	@Param			id	path		string	true	"Project id"
//	@Success		200	{object}	FreshnessResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/projects/{id}/freshness [get]
func (h *Handler) Freshness(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.Freshness(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "freshness", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Sync handles POST /api/projects/{id}/sync.
//
//	@Summary		Sync a project, one file, or rebuild from scratch
//	@Tags			projects
//	@Produce		json
//	@Param			id		path		string	true	"Project id"
//	@Param			path	query		string	false	"Sync only this file"
//	@Param			full	query		bool	false	"Full rebuild"
//	@Success		200		{object}	SyncResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/projects/{id}/sync [post]
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	full, _ := strconv.ParseBool(q.Get("full"))
	rep, err := h.svc.Sync(r.Context(), service.SyncInput{
		ProjectID: chi.URLParam(r, "id"),
		Path:      q.Get("path"),
		Full:      full,
	})
	if err != nil {
		writeError(w, "sync", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// Observe handles POST /api/observations.
//
//	@Summary		Record an observation
//	@Tags			observations
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ObserveRequest	true	"Observation"
//	@Success		201		{object}	ObservationResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/observations [post]
func (h *Handler) Observe(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req ObserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	o, err := h.svc.Observe(r.Context(), service.ObserveInput(req))
	if err != nil {
		writeError(w, "observe", err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}
