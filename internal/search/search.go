// Package search is the read façade over the structured store and the
// embedding index.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/starford/mnemo/internal/apperr"
	"github.com/starford/mnemo/internal/embedding"
	"github.com/starford/mnemo/internal/index"
	"github.com/starford/mnemo/internal/models"
)

// Kind selects which entity a keyword search targets.
type Kind string

const (
	KindFiles        Kind = "files"
	KindFunctions    Kind = "functions"
	KindObservations Kind = "observations"
)

const (
	defaultLimit = 20
	maxLimit     = 200
)

// ParseKind converts s to a Kind. An empty string means files.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return KindFiles, nil
	case KindFiles, KindFunctions, KindObservations:
		return k, nil
	default:
		return "", fmt.Errorf("search: unknown kind %q: %w", s, apperr.ErrValidation)
	}
}

// Request is one keyword search.
type Request struct {
	Query     string
	Kind      Kind
	ProjectID string
	Category  models.Category
	Limit     int
}

// Response carries the hits of a single kind. Results holds []index.FileHit,
// []index.FunctionHit or []index.ObservationHit according to Kind.
type Response struct {
	Kind    Kind   `json:"kind"`
	Query   string `json:"query"`
	Count   int    `json:"count"`
	Results any    `json:"results"`
}

// SemanticHit is an embedding match joined with its file row.
type SemanticHit struct {
	Path        string  `json:"path"`
	Score       float64 `json:"score"`
	ProjectID   string  `json:"project_id"`
	ProjectName string  `json:"project_name,omitempty"`
	Summary     string  `json:"summary,omitempty"`
	Purpose     string  `json:"purpose,omitempty"`
	Excerpt     string  `json:"excerpt,omitempty"`
}

// Store is the structured-store surface the engine reads.
type Store interface {
	SearchFiles(ctx context.Context, query, projectID string, limit int) ([]index.FileHit, error)
	SearchFunctions(ctx context.Context, pattern, projectID string, limit int) ([]index.FunctionHit, error)
	SearchObservations(ctx context.Context, query, projectID string, category models.Category, limit int) ([]index.ObservationHit, error)
	GetFile(ctx context.Context, projectID, path string) (*models.File, error)
	GetProject(ctx context.Context, id string) (*models.Project, error)
}

// Embeddings is the embedding-index surface the engine reads.
type Embeddings interface {
	Query(ctx context.Context, projectID, text string, topK int) ([]embedding.Match, error)
	FindSimilar(ctx context.Context, projectID, path string, topK int) ([]embedding.Match, error)
	Record(projectID, path string) (models.EmbeddingRecord, error)
}

// Engine answers searches. It holds no state of its own.
type Engine struct {
	store      Store
	embeddings Embeddings
	logger     *slog.Logger
}

// New returns an Engine. embeddings may be nil when only keyword search is
// needed.
func New(store Store, embeddings Embeddings, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, embeddings: embeddings, logger: logger}
}

// Search runs a keyword search over one kind. It never consults the
// embedding index.
func (e *Engine) Search(ctx context.Context, req Request) (Response, error) {
	kind, err := ParseKind(string(req.Kind))
	if err != nil {
		return Response{}, err
	}
	q := strings.TrimSpace(req.Query)
	if q == "" && kind != KindObservations {
		return Response{}, fmt.Errorf("search: empty query: %w", apperr.ErrValidation)
	}
	if req.Category != "" && !req.Category.Valid() {
		return Response{}, fmt.Errorf("search: unknown category %q: %w", req.Category, apperr.ErrValidation)
	}
	limit := clampLimit(req.Limit)

	resp := Response{Kind: kind, Query: q}
	switch kind {
	case KindFiles:
		hits, err := e.store.SearchFiles(ctx, q, req.ProjectID, limit)
		if err != nil {
			return Response{}, err
		}
		resp.Results, resp.Count = nonNil(hits), len(hits)
	case KindFunctions:
		hits, err := e.store.SearchFunctions(ctx, q, req.ProjectID, limit)
		if err != nil {
			return Response{}, err
		}
		resp.Results, resp.Count = nonNil(hits), len(hits)
	case KindObservations:
		hits, err := e.store.SearchObservations(ctx, q, req.ProjectID, req.Category, limit)
		if err != nil {
			return Response{}, err
		}
		resp.Results, resp.Count = nonNil(hits), len(hits)
	}
	e.logger.Debug("search: done",
		slog.String("kind", string(kind)),
		slog.String("project", req.ProjectID),
		slog.Int("hits", resp.Count))
	return resp, nil
}

// Semantic embeds text and returns the closest files of a project.
func (e *Engine) Semantic(ctx context.Context, projectID, text string, k int) ([]SemanticHit, error) {
	if e.embeddings == nil {
		return nil, fmt.Errorf("search: semantic search disabled: %w", apperr.ErrUnavailable)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("search: empty query: %w", apperr.ErrValidation)
	}
	matches, err := e.embeddings.Query(ctx, projectID, text, clampLimit(k))
	if err != nil {
		return nil, err
	}
	return e.join(ctx, projectID, matches)
}

// Similar returns the files of a project closest to path. It needs no
// provider call, so it keeps working while the provider is down.
func (e *Engine) Similar(ctx context.Context, projectID, path string, k int) ([]SemanticHit, error) {
	if e.embeddings == nil {
		return nil, fmt.Errorf("search: semantic search disabled: %w", apperr.ErrUnavailable)
	}
	matches, err := e.embeddings.FindSimilar(ctx, projectID, path, clampLimit(k))
	if err != nil {
		return nil, err
	}
	return e.join(ctx, projectID, matches)
}

func (e *Engine) join(ctx context.Context, projectID string, matches []embedding.Match) ([]SemanticHit, error) {
	name := ""
	if p, err := e.store.GetProject(ctx, projectID); err == nil {
		name = p.DisplayName
	}
	out := make([]SemanticHit, 0, len(matches))
	for _, m := range matches {
		h := SemanticHit{Path: m.Path, Score: m.Score, ProjectID: projectID, ProjectName: name}
		f, err := e.store.GetFile(ctx, projectID, m.Path)
		switch {
		case err == nil:
			h.Summary, h.Purpose = f.Summary, f.Purpose
		case errors.Is(err, apperr.ErrNotFound):
			e.logger.Debug("search: vector without file row",
				slog.String("project", projectID), slog.String("path", m.Path))
		default:
			return nil, err
		}
		if rec, err := e.embeddings.Record(projectID, m.Path); err == nil {
			h.Excerpt = rec.SourceTextExcerpt
		}
		out = append(out, h)
	}
	return out, nil
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return defaultLimit
	case n > maxLimit:
		return maxLimit
	default:
		return n
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
