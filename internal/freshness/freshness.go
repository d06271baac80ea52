// Package freshness decides whether a project's indexes lag its source tree
// and recommends a sync strategy. It never mutates either store.
package freshness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/starford/mnemo/internal/apperr"
	"github.com/starford/mnemo/internal/models"
	"github.com/starford/mnemo/internal/vcs"
)

// Config holds the staleness thresholds.
type Config struct {
	// ChangedFileThreshold is the changed-file count at which an incremental
	// sync is no longer recommended.
	ChangedFileThreshold int
	// EmbeddingTTL is the maximum embedding age. Zero disables the check.
	EmbeddingTTL time.Duration
	// Timeout bounds a whole check. Zero means no bound.
	Timeout     time.Duration
	Extensions  []string
	ExcludeDirs []string
}

// DefaultConfig returns the built-in thresholds.
func DefaultConfig() Config {
	return Config{
		ChangedFileThreshold: 20,
		EmbeddingTTL:         7 * 24 * time.Hour,
		Timeout:              30 * time.Second,
		Extensions: []string{
			".go", ".ts", ".tsx", ".js", ".jsx", ".mjs", ".py", ".rb", ".rs",
			".java", ".kt", ".swift", ".c", ".h", ".cpp", ".cs", ".php", ".vue", ".svelte",
		},
		ExcludeDirs: []string{"node_modules", ".git", "vendor", "dist", "build", ".next", "coverage", "__pycache__"},
	}
}

// SyncClock reports when a project was last synced into the structured store.
type SyncClock interface {
	LastSync(ctx context.Context, projectID string) (time.Time, error)
}

// EmbeddingClock reports when a project's embedding set was last written.
type EmbeddingClock interface {
	LastBuild(projectID string) (time.Time, error)
}

// Input identifies the project to check.
type Input struct {
	ProjectID string
	RootPath  string
}

// Controller computes freshness snapshots.
type Controller struct {
	cfg        Config
	store      SyncClock
	embeddings EmbeddingClock
	changes    vcs.ChangeLog
	filter     filter
	logger     *slog.Logger
	now        func() time.Time
}

// New returns a Controller. changes may be nil to skip version control.
func New(cfg Config, store SyncClock, embeddings EmbeddingClock, changes vcs.ChangeLog, logger *slog.Logger) *Controller {
	if cfg.ChangedFileThreshold <= 0 {
		cfg.ChangedFileThreshold = DefaultConfig().ChangedFileThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		cfg:        cfg,
		store:      store,
		embeddings: embeddings,
		changes:    changes,
		filter:     newFilter(cfg.Extensions, cfg.ExcludeDirs),
		logger:     logger,
		now:        time.Now,
	}
}

// Check computes the snapshot for one project. Missing or unreadable stores
// are reported as reasons for a full rebuild rather than as errors; only
// cancellation and timeouts fail the check.
func (c *Controller) Check(ctx context.Context, in Input) (models.FreshnessSnapshot, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	snap := models.FreshnessSnapshot{
		ProjectID:                 in.ProjectID,
		CheckedAt:                 c.now().UTC(),
		ChangedFilesSinceLastScan: []string{},
		GitDelta:                  vcs.Delta(nil),
		Reasons:                   []string{},
	}

	var lastSync time.Time
	if c.store != nil {
		t, err := c.store.LastSync(ctx, in.ProjectID)
		switch {
		case err == nil:
			lastSync = t
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return snap, fmt.Errorf("freshness: %s: %w", in.ProjectID, err)
		default:
			snap.Reasons = append(snap.Reasons, "structured store unavailable")
			c.logger.Warn("freshness: last sync unavailable",
				slog.String("project", in.ProjectID), slog.String("error", err.Error()))
		}
	}
	if !lastSync.IsZero() {
		snap.LastScanAt = &lastSync
	}

	if c.embeddings != nil {
		t, err := c.embeddings.LastBuild(in.ProjectID)
		if err != nil {
			snap.Reasons = append(snap.Reasons, "embedding index unreadable")
			c.logger.Warn("freshness: embeddings unreadable",
				slog.String("project", in.ProjectID), slog.String("error", err.Error()))
		} else if !t.IsZero() {
			snap.LastEmbeddingsAt = &t
		}
	}

	changed := map[string]struct{}{}
	if !lastSync.IsZero() && in.RootPath != "" {
		paths, err := changedSince(ctx, in.RootPath, lastSync, c.filter)
		switch {
		case err == nil:
			for _, p := range paths {
				changed[p] = struct{}{}
			}
		case ctx.Err() != nil:
			return snap, fmt.Errorf("freshness: scan %s: %w", in.RootPath, ctx.Err())
		default:
			snap.Reasons = append(snap.Reasons, "project root unreadable")
			c.logger.Warn("freshness: scan failed",
				slog.String("root", in.RootPath), slog.String("error", err.Error()))
		}
	}

	if c.changes != nil && in.RootPath != "" {
		list, err := c.changes.Since(ctx, in.RootPath, lastSync)
		switch {
		case err == nil:
			snap.VCSAvailable = true
			var kept []vcs.Change
			for _, ch := range list {
				if c.filter.match(ch.Path) {
					kept = append(kept, ch)
				}
			}
			snap.GitDelta = vcs.Delta(kept)
			for _, p := range snap.GitDelta.Modified {
				changed[p] = struct{}{}
			}
		case ctx.Err() != nil:
			return snap, fmt.Errorf("freshness: vcs %s: %w", in.RootPath, ctx.Err())
		case errors.Is(err, apperr.ErrUnavailable):
			c.logger.Debug("freshness: vcs unavailable", slog.String("root", in.RootPath))
		default:
			c.logger.Warn("freshness: vcs failed",
				slog.String("root", in.RootPath), slog.String("error", err.Error()))
		}
	}

	for p := range changed {
		snap.ChangedFilesSinceLastScan = append(snap.ChangedFilesSinceLastScan, p)
	}
	sort.Strings(snap.ChangedFilesSinceLastScan)

	snap.Recommendation, snap.Reasons = c.verdict(snap, snap.Reasons)
	c.logger.Debug("freshness: checked",
		slog.String("project", in.ProjectID),
		slog.String("recommendation", string(snap.Recommendation)),
		slog.Int("changed", len(snap.ChangedFilesSinceLastScan)))
	return snap, nil
}

// Unchecked is the snapshot reported when no check could run at all. It
// always recommends a full rebuild.
func Unchecked(projectID string, now time.Time, reason string) models.FreshnessSnapshot {
	return models.FreshnessSnapshot{
		ProjectID:                 projectID,
		CheckedAt:                 now.UTC(),
		ChangedFilesSinceLastScan: []string{},
		GitDelta:                  vcs.Delta(nil),
		Recommendation:            models.RecommendFull,
		Reasons:                   []string{reason},
	}
}

// verdict applies the ordered decision rules. The first matching rule sets
// the recommendation; full-rebuild reasons are all reported.
func (c *Controller) verdict(s models.FreshnessSnapshot, reasons []string) (models.Recommendation, []string) {
	full := len(reasons) > 0

	if n := len(s.GitDelta.Added) + len(s.GitDelta.Deleted); n > 0 {
		reasons = append(reasons, fmt.Sprintf("version control reports %d added and %d deleted files",
			len(s.GitDelta.Added), len(s.GitDelta.Deleted)))
		full = true
	}
	if s.LastScanAt == nil {
		reasons = append(reasons, "project was never synced")
		full = true
	}
	switch {
	case s.LastEmbeddingsAt == nil:
		reasons = append(reasons, "embeddings missing")
		full = true
	case c.cfg.EmbeddingTTL > 0 && s.CheckedAt.Sub(*s.LastEmbeddingsAt) > c.cfg.EmbeddingTTL:
		reasons = append(reasons, fmt.Sprintf("embeddings older than %s", c.cfg.EmbeddingTTL))
		full = true
	}
	n := len(s.ChangedFilesSinceLastScan)
	if n >= c.cfg.ChangedFileThreshold {
		reasons = append(reasons, fmt.Sprintf("%d changed files reach the threshold of %d", n, c.cfg.ChangedFileThreshold))
		full = true
	}

	switch {
	case full:
		return models.RecommendFull, reasons
	case n > 0:
		return models.RecommendIncremental, append(reasons, fmt.Sprintf("%d changed files", n))
	default:
		return models.RecommendNone, reasons
	}
}
