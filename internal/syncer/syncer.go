// Package syncer applies a project's source-of-truth document to the
// structured store and the embedding index.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/starford/mnemo/internal/apperr"
	"github.com/starford/mnemo/internal/embedding"
	"github.com/starford/mnemo/internal/index"
	"github.com/starford/mnemo/internal/models"
	"github.com/starford/mnemo/internal/source"
)

// Project is a configured project together with the location of its source
// document.
type Project struct {
	models.Project
	SourcePath string
}

// Embeddings is the subset of the embedding index the writer needs.
type Embeddings interface {
	Build(ctx context.Context, projectID string, docs []embedding.Document, keep ...string) error
	UpsertMany(ctx context.Context, projectID string, docs []embedding.Document) error
	RemoveMany(ctx context.Context, projectID string, paths []string) error
	Hashes(projectID string) (map[string]string, error)
}

// Report summarises one sync run.
type Report struct {
	ProjectID string   `json:"project_id"`
	Upserted  int      `json:"upserted"`
	Deleted   int      `json:"deleted"`
	Unchanged int      `json:"unchanged"`
	Embedded  int      `json:"embedded"`
	Skipped   []string `json:"skipped"`
}

// Event types emitted after successful writes.
const (
	EventFileSynced    = "file.synced"
	EventFileDeleted   = "file.deleted"
	EventProjectSynced = "project.synced"
)

// Event describes one applied change.
type Event struct {
	Type      string  `json:"type"`
	ProjectID string  `json:"project_id"`
	Path      string  `json:"path,omitempty"`
	Report    *Report `json:"report,omitempty"`
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithEventFunc registers a callback run after each applied change.
func WithEventFunc(fn func(Event)) Option {
	return func(s *Syncer) { s.onEvent = fn }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Syncer) { s.now = now }
}

// Syncer is the single writer for both stores. Runs for the same project are
// serialised; different projects may sync concurrently.
type Syncer struct {
	store      index.Store
	embeddings Embeddings
	projects   map[string]Project
	logger     *slog.Logger
	onEvent    func(Event)
	now        func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New returns a Syncer for the given projects.
func New(store index.Store, emb Embeddings, projects []Project, logger *slog.Logger, opts ...Option) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Syncer{
		store:      store,
		embeddings: emb,
		projects:   make(map[string]Project, len(projects)),
		logger:     logger,
		now:        time.Now,
		locks:      make(map[string]*sync.Mutex),
	}
	for _, p := range projects {
		s.projects[p.ID] = p
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Projects returns the configured projects sorted by id.
func (s *Syncer) Projects() []Project {
	out := make([]Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Project returns one configured project.
func (s *Syncer) Project(id string) (Project, error) {
	p, ok := s.projects[id]
	if !ok {
		return Project{}, fmt.Errorf("syncer: project %q: %w", id, apperr.ErrNotFound)
	}
	return p, nil
}

func (s *Syncer) lock(projectID string) func() {
	s.mu.Lock()
	l, ok := s.locks[projectID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[projectID] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// SyncFile brings one path in line with the source document: a path absent
// from the source is deleted from both stores, a present one is rewritten.
// A malformed entry is skipped and left as previously indexed.
func (s *Syncer) SyncFile(ctx context.Context, projectID, path string) (Report, error) {
	p, err := s.Project(projectID)
	if err != nil {
		return Report{}, err
	}
	defer s.lock(projectID)()

	rep := Report{ProjectID: projectID, Skipped: []string{}}
	doc, err := source.Load(p.SourcePath)
	if err != nil {
		return rep, fmt.Errorf("syncer: %s: %w", projectID, err)
	}
	if err := s.store.UpsertProject(ctx, p.Project); err != nil {
		return rep, fmt.Errorf("syncer: %s: %w", projectID, err)
	}

	if _, bad := doc.InvalidPaths()[path]; bad {
		s.skip(&rep, doc, path)
		return rep, nil
	}

	e, ok := doc.Entries[path]
	if !ok {
		if err := s.store.DeleteFile(ctx, projectID, path); err != nil {
			return rep, err
		}
		if err := s.embeddings.RemoveMany(ctx, projectID, []string{path}); err != nil {
			return rep, err
		}
		rep.Deleted = 1
		s.emit(Event{Type: EventFileDeleted, ProjectID: projectID, Path: path})
		return rep, nil
	}

	if err := s.writeEntry(ctx, projectID, e); err != nil {
		if errors.Is(err, apperr.ErrValidation) {
			s.logger.Warn("syncer: entry skipped", slog.String("project", projectID),
				slog.String("path", path), slog.String("error", err.Error()))
			rep.Skipped = append(rep.Skipped, path)
			return rep, nil
		}
		return rep, err
	}
	rep.Upserted = 1
	err = s.embeddings.UpsertMany(ctx, projectID, []embedding.Document{{Path: path, Text: embeddingText(e), Hash: e.Hash}})
	if rejected, rerr := s.rejected(&rep, err); rerr != nil {
		return rep, rerr
	} else if len(rejected) == 0 {
		rep.Embedded = 1
	}
	s.emit(Event{Type: EventFileSynced, ProjectID: projectID, Path: path})
	return rep, nil
}

// SyncProject applies every entry whose content changed since the last run,
// prunes orphans from both stores and records the sync time.
func (s *Syncer) SyncProject(ctx context.Context, projectID string) (Report, error) {
	return s.syncProject(ctx, projectID, false)
}

// Rebuild rewrites every entry regardless of hashes and replaces the whole
// embedding set.
func (s *Syncer) Rebuild(ctx context.Context, projectID string) (Report, error) {
	return s.syncProject(ctx, projectID, true)
}

// Apply runs the sync path chosen by a freshness recommendation.
func (s *Syncer) Apply(ctx context.Context, snap models.FreshnessSnapshot) (Report, error) {
	switch snap.Recommendation {
	case models.RecommendFull:
		return s.Rebuild(ctx, snap.ProjectID)
	case models.RecommendIncremental:
		return s.SyncProject(ctx, snap.ProjectID)
	default:
		if _, err := s.Project(snap.ProjectID); err != nil {
			return Report{}, err
		}
		return Report{ProjectID: snap.ProjectID, Skipped: []string{}}, nil
	}
}

func (s *Syncer) syncProject(ctx context.Context, projectID string, full bool) (Report, error) {
	p, err := s.Project(projectID)
	if err != nil {
		return Report{}, err
	}
	defer s.lock(projectID)()

	start := s.now()
	rep := Report{ProjectID: projectID, Skipped: []string{}}

	doc, err := source.Load(p.SourcePath)
	if err != nil {
		return rep, fmt.Errorf("syncer: %s: %w", projectID, err)
	}
	if err := s.store.UpsertProject(ctx, p.Project); err != nil {
		return rep, fmt.Errorf("syncer: %s: %w", projectID, err)
	}
	existing, err := s.store.AllFiles(ctx, projectID)
	if err != nil {
		return rep, fmt.Errorf("syncer: %s: %w", projectID, err)
	}
	embedded, err := s.embeddings.Hashes(projectID)
	if err != nil && !full {
		return rep, fmt.Errorf("syncer: %s: %w", projectID, err)
	}

	invalid := doc.InvalidPaths()
	for _, v := range doc.Invalid {
		s.skip(&rep, doc, v.Path)
	}

	var docs []embedding.Document
	for _, path := range doc.Paths() {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		e := doc.Entries[path]
		vecHash, hasVector := embedded[path]
		if !full && existing[path] == e.Hash && hasVector && vecHash == e.Hash {
			rep.Unchanged++
			continue
		}
		if full || existing[path] != e.Hash {
			if err := s.writeEntry(ctx, projectID, e); err != nil {
				if apperr.Fatal(err) || !errors.Is(err, apperr.ErrValidation) {
					return rep, err
				}
				s.logger.Warn("syncer: entry skipped", slog.String("project", projectID),
					slog.String("path", path), slog.String("error", err.Error()))
				rep.Skipped = append(rep.Skipped, path)
				continue
			}
			rep.Upserted++
		}
		docs = append(docs, embedding.Document{Path: path, Text: embeddingText(e), Hash: e.Hash})
	}

	var orphans []string
	for path := range existing {
		if _, ok := doc.Entries[path]; ok {
			continue
		}
		if _, ok := invalid[path]; ok {
			continue
		}
		orphans = append(orphans, path)
	}
	sort.Strings(orphans)
	for _, path := range orphans {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if err := s.store.DeleteFile(ctx, projectID, path); err != nil {
			return rep, err
		}
		rep.Deleted++
	}

	staleVectors := append([]string(nil), orphans...)
	for path := range embedded {
		_, inStore := existing[path]
		_, inSource := doc.Entries[path]
		_, bad := invalid[path]
		if !inStore && !inSource && !bad {
			staleVectors = append(staleVectors, path)
		}
	}

	if full {
		// Malformed entries keep their previous vector; one that never had a
		// vector is embedded from its stored row.
		var keep []string
		for _, v := range doc.Invalid {
			if _, ok := embedded[v.Path]; ok {
				keep = append(keep, v.Path)
				continue
			}
			if f, err := s.store.GetFile(ctx, projectID, v.Path); err == nil {
				docs = append(docs, embedding.Document{Path: v.Path, Text: fileText(f), Hash: f.ContentHash})
			}
		}
		err = s.embeddings.Build(ctx, projectID, docs, keep...)
	} else {
		if err := s.embeddings.RemoveMany(ctx, projectID, staleVectors); err != nil {
			return rep, err
		}
		err = s.embeddings.UpsertMany(ctx, projectID, docs)
	}
	rejected, err := s.rejected(&rep, err)
	if err != nil {
		return rep, err
	}
	rep.Embedded = len(docs) - len(rejected)

	if err := s.store.SetLastSync(ctx, projectID, start); err != nil {
		return rep, err
	}

	for _, path := range orphans {
		s.emit(Event{Type: EventFileDeleted, ProjectID: projectID, Path: path})
	}
	s.emit(Event{Type: EventProjectSynced, ProjectID: projectID, Report: &rep})
	s.logger.Info("syncer: project synced",
		slog.String("project", projectID),
		slog.Bool("full", full),
		slog.Int("upserted", rep.Upserted),
		slog.Int("deleted", rep.Deleted),
		slog.Int("unchanged", rep.Unchanged),
		slog.Int("skipped", len(rep.Skipped)),
		slog.Duration("took", s.now().Sub(start)))
	return rep, nil
}

// writeEntry commits the file row before its function list.
func (s *Syncer) writeEntry(ctx context.Context, projectID string, e source.Entry) error {
	id, err := s.store.UpsertFile(ctx, index.FileRow{
		ProjectID:     projectID,
		Path:          e.Path,
		Summary:       e.Summary,
		Purpose:       e.Purpose,
		ComponentName: e.ComponentName,
		IsComponent:   e.IsComponent,
		ContentHash:   e.Hash,
		UpdatedAt:     s.now(),
	})
	if err != nil {
		return err
	}
	fns := make([]index.FunctionRow, len(e.Functions))
	for i, f := range e.Functions {
		fns[i] = index.FunctionRow{Name: f.Name, LineNumber: f.Line, Kind: f.Type}
	}
	return s.store.ReplaceFunctions(ctx, id, fns)
}

// rejected moves documents the embedding index could not vectorise into
// the report's skip list. Any other error is returned.
func (s *Syncer) rejected(rep *Report, err error) ([]string, error) {
	var rej *embedding.RejectedError
	if !errors.As(err, &rej) {
		return nil, err
	}
	for _, path := range rej.Paths {
		s.logger.Warn("syncer: entry not embedded", slog.String("project", rep.ProjectID),
			slog.String("path", path), slog.String("error", "no embeddable content"))
	}
	rep.Skipped = append(rep.Skipped, rej.Paths...)
	return rej.Paths, nil
}

func (s *Syncer) skip(rep *Report, doc *source.Document, path string) {
	for _, v := range doc.Invalid {
		if v.Path == path {
			s.logger.Warn("syncer: invalid entry", slog.String("project", rep.ProjectID),
				slog.String("path", path), slog.String("error", v.Error()))
		}
	}
	rep.Skipped = append(rep.Skipped, path)
}

func (s *Syncer) emit(e Event) {
	if s.onEvent != nil {
		s.onEvent(e)
	}
}

func fileText(f *models.File) string {
	e := source.Entry{Path: f.Path, Summary: f.Summary, Purpose: f.Purpose}
	return embeddingText(e)
}
