package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/mnemo/internal/service"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *service.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Get("/search", h.Search)
	r.Post("/observations", h.Observe)

	r.Route("/projects", func(r chi.Router) {
		r.Get("/", h.ListProjects)
		r.Get("/{id}/similar", h.Similar)
		r.Get("/{id}/ask", h.Ask)
		r.Get("/{id}/freshness", h.Freshness)
		r.Post("/{id}/sync", h.Sync)
	})

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
