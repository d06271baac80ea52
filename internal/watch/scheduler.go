package watch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/starford/mnemo/internal/models"
	"github.com/starford/mnemo/internal/syncer"
)

// Refresher checks a project and applies the recommended sync.
type Refresher interface {
	Refresh(ctx context.Context, projectID string) (models.FreshnessSnapshot, syncer.Report, error)
}

// Scheduler refreshes every project on a cron schedule.
type Scheduler struct {
	spec      string
	projects  []string
	refresher Refresher
	logger    *slog.Logger
}

// NewScheduler validates spec, a standard cron expression or descriptor such
// as "@every 1h".
func NewScheduler(spec string, projects []string, r Refresher, logger *slog.Logger) (*Scheduler, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("watch: schedule %q: %w", spec, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{spec: spec, projects: projects, refresher: r, logger: logger}, nil
}

// Run fires RunOnce on schedule until ctx is cancelled. A run still in
// progress when the next tick arrives makes that tick a no-op.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.spec, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("watch: schedule %q: %w", s.spec, err)
	}
	s.logger.Info("scheduler: started", slog.String("schedule", s.spec), slog.Int("projects", len(s.projects)))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("scheduler: stopped")
	return nil
}

// RunOnce refreshes each project in turn. Failures are logged and do not
// stop the remaining projects.
func (s *Scheduler) RunOnce(ctx context.Context) {
	for _, id := range s.projects {
		if ctx.Err() != nil {
			return
		}
		snap, rep, err := s.refresher.Refresh(ctx, id)
		if err != nil {
			s.logger.Warn("scheduler: refresh failed", slog.String("project", id), slog.String("error", err.Error()))
			continue
		}
		s.logger.Info("scheduler: refreshed",
			slog.String("project", id),
			slog.String("recommendation", string(snap.Recommendation)),
			slog.Int("upserted", rep.Upserted),
			slog.Int("deleted", rep.Deleted))
	}
}
