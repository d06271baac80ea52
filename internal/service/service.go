// Package service coordinates the search engine, the sync writer, the
// freshness controller and the observation log behind one API shared by the
// CLI, the HTTP API and the MCP server.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/starford/mnemo/internal/apperr"
	"github.com/starford/mnemo/internal/classify"
	"github.com/starford/mnemo/internal/freshness"
	"github.com/starford/mnemo/internal/index"
	"github.com/starford/mnemo/internal/models"
	"github.com/starford/mnemo/internal/search"
	"github.com/starford/mnemo/internal/syncer"
)

// ProjectSummary describes a configured project and what the store holds
// for it.
type ProjectSummary struct {
	models.Project
	SourcePath string      `json:"source_path"`
	Stats      index.Stats `json:"stats"`
	Embedded   int         `json:"embedded"`
	LastSyncAt *time.Time  `json:"last_sync_at"`
}

// ObserveInput is an observation to record. An empty Category is filled in
// by the classifier.
type ObserveInput struct {
	ProjectID string   `json:"project_id"`
	SessionID string   `json:"session_id"`
	Category  string   `json:"category"`
	Text      string   `json:"text"`
	Files     []string `json:"files"`
}

// SyncInput selects what to sync: one path, the whole project, or a full
// rebuild.
type SyncInput struct {
	ProjectID string
	Path      string
	Full      bool
}

// EmbeddingCounter reports embedded document counts.
type EmbeddingCounter interface {
	Count(projectID string) (int, error)
}

// Service is the application layer.
type Service struct {
	store      index.Store
	engine     *search.Engine
	syncer     *syncer.Syncer
	freshness  *freshness.Controller
	classifier *classify.Classifier
	embeddings EmbeddingCounter
	logger     *slog.Logger
}

// New creates a Service.
func New(store index.Store, engine *search.Engine, sync *syncer.Syncer, fresh *freshness.Controller,
	classifier *classify.Classifier, embeddings EmbeddingCounter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      store,
		engine:     engine,
		syncer:     sync,
		freshness:  fresh,
		classifier: classifier,
		embeddings: embeddings,
		logger:     logger,
	}
}

// MirrorProjects records every configured project in the store so search
// results carry display names.
func (s *Service) MirrorProjects(ctx context.Context) error {
	for _, p := range s.syncer.Projects() {
		if err := s.store.UpsertProject(ctx, p.Project); err != nil {
			return fmt.Errorf("service: mirror project %s: %w", p.ID, err)
		}
	}
	return nil
}

// Search runs a keyword search.
func (s *Service) Search(ctx context.Context, req search.Request) (search.Response, error) {
	return s.engine.Search(ctx, req)
}

// Semantic runs an embedding query within one project.
func (s *Service) Semantic(ctx context.Context, projectID, text string, k int) ([]search.SemanticHit, error) {
	if _, err := s.syncer.Project(projectID); err != nil {
		return nil, err
	}
	return s.engine.Semantic(ctx, projectID, text, k)
}

// Similar lists the files closest to path.
func (s *Service) Similar(ctx context.Context, projectID, path string, k int) ([]search.SemanticHit, error) {
	if _, err := s.syncer.Project(projectID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("service: path is required: %w", apperr.ErrValidation)
	}
	return s.engine.Similar(ctx, projectID, path, k)
}

// Freshness checks a configured project against its root path.
func (s *Service) Freshness(ctx context.Context, projectID string) (models.FreshnessSnapshot, error) {
	p, err := s.syncer.Project(projectID)
	if err != nil {
		return models.FreshnessSnapshot{}, err
	}
	return s.FreshnessAt(ctx, projectID, p.RootPath)
}

// FreshnessAt checks projectID against an explicit root, which need not be
// configured.
func (s *Service) FreshnessAt(ctx context.Context, projectID, root string) (models.FreshnessSnapshot, error) {
	return s.freshness.Check(ctx, freshness.Input{ProjectID: projectID, RootPath: root})
}

// Sync applies the source document to both stores.
func (s *Service) Sync(ctx context.Context, in SyncInput) (syncer.Report, error) {
	switch {
	case in.Path != "" && in.Full:
		return syncer.Report{}, fmt.Errorf("service: path and full are exclusive: %w", apperr.ErrValidation)
	case in.Path != "":
		return s.syncer.SyncFile(ctx, in.ProjectID, in.Path)
	case in.Full:
		return s.syncer.Rebuild(ctx, in.ProjectID)
	default:
		return s.syncer.SyncProject(ctx, in.ProjectID)
	}
}

// Refresh checks a project and runs whatever sync the check recommends.
func (s *Service) Refresh(ctx context.Context, projectID string) (models.FreshnessSnapshot, syncer.Report, error) {
	snap, err := s.Freshness(ctx, projectID)
	if err != nil {
		return snap, syncer.Report{}, err
	}
	rep, err := s.syncer.Apply(ctx, snap)
	return snap, rep, err
}

// Observe records an observation.
func (s *Service) Observe(ctx context.Context, in ObserveInput) (*models.Observation, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, fmt.Errorf("service: observation text is required: %w", apperr.ErrValidation)
	}
	if in.ProjectID != "" {
		if _, err := s.syncer.Project(in.ProjectID); err != nil {
			return nil, err
		}
	}

	var category models.Category
	if in.Category == "" {
		category = s.classifier.Classify(text)
	} else {
		c, err := models.ParseCategory(strings.ToLower(in.Category))
		if err != nil {
			return nil, fmt.Errorf("service: %w: %w", apperr.ErrValidation, err)
		}
		category = c
	}

	o := models.Observation{
		ProjectID: in.ProjectID,
		SessionID: in.SessionID,
		Category:  category,
		Text:      text,
		Files:     in.Files,
	}
	id, err := s.store.AddObservation(ctx, o)
	if err != nil {
		return nil, err
	}
	o.ID = id
	if o.Files == nil {
		o.Files = []string{}
	}
	s.logger.Info("service: observation recorded",
		slog.String("id", id),
		slog.String("project", o.ProjectID),
		slog.String("category", string(o.Category)))
	return &o, nil
}

// Projects lists configured projects with their store statistics.
func (s *Service) Projects(ctx context.Context) ([]ProjectSummary, error) {
	projects := s.syncer.Projects()
	out := make([]ProjectSummary, 0, len(projects))
	for _, p := range projects {
		st, err := s.store.Stats(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		sum := ProjectSummary{Project: p.Project, SourcePath: p.SourcePath, Stats: st}
		if last, err := s.store.LastSync(ctx, p.ID); err == nil && !last.IsZero() {
			sum.LastSyncAt = &last
		}
		if s.embeddings != nil {
			if n, err := s.embeddings.Count(p.ID); err == nil {
				sum.Embedded = n
			}
		}
		out = append(out, sum)
	}
	return out, nil
}

// Ready reports whether the structured store is usable.
func (s *Service) Ready(ctx context.Context) error {
	return s.store.Ping(ctx)
}
