package api

import (
	"github.com/starford/mnemo/internal/models"
	"github.com/starford/mnemo/internal/search"
	"github.com/starford/mnemo/internal/service"
	"github.com/starford/mnemo/internal/syncer"
)

// ObserveRequest is the request body for recording an observation.
type ObserveRequest struct {
	ProjectID string   `json:"project_id" example:"web-app"`
	SessionID string   `json:"session_id" example:"2f6c0d1e"`
	Category  string   `json:"category" example:"gotcha"`
	Text      string   `json:"text" example:"Token refresh races the logout handler" validate:"required"`
	Files     []string `json:"files" example:"src/auth/session.ts"`
}

// SearchResponse is the keyword search envelope (aliased from the domain layer).
type SearchResponse = search.Response

// SemanticResponse wraps ranked embedding matches.
type SemanticResponse struct {
	ProjectID string               `json:"project_id" example:"web-app" validate:"required"`
	Results   []search.SemanticHit `json:"results" validate:"required"`
}

// ProjectListResponse wraps the configured projects.
type ProjectListResponse struct {
	Projects []service.ProjectSummary `json:"projects" validate:"required"`
}

// FreshnessResponse is a freshness snapshot (aliased from the domain layer).
type FreshnessResponse = models.FreshnessSnapshot

// SyncResponse is a sync run report (aliased from the domain layer).
type SyncResponse = syncer.Report

// ObservationResponse is a recorded observation (aliased from the domain layer).
type ObservationResponse = models.Observation
