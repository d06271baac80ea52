// Package watch drives the sync writer from outside events: edits to a
// project's source document and a periodic freshness schedule.
package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/mnemo/internal/syncer"
)

const defaultDebounce = 300 * time.Millisecond

// ProjectSyncer runs an incremental project sync.
type ProjectSyncer interface {
	SyncProject(ctx context.Context, projectID string) (syncer.Report, error)
}

// Watcher syncs a project shortly after its source document changes.
type Watcher struct {
	sync     ProjectSyncer
	debounce time.Duration
	logger   *slog.Logger
}

// NewWatcher returns a Watcher. Bursts of events within debounce collapse
// into one sync.
func NewWatcher(sync ProjectSyncer, debounce time.Duration, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{sync: sync, debounce: debounce, logger: logger}
}

// Run watches the directory of every project's source document until ctx is
// cancelled. Directories are watched rather than files so editors that
// replace the file on save are still seen. Projects whose directory does not
// exist are skipped with a warning.
func (w *Watcher) Run(ctx context.Context, projects []syncer.Project) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	// source path -> project id
	sources := make(map[string]string, len(projects))
	for _, p := range projects {
		abs, err := filepath.Abs(p.SourcePath)
		if err != nil {
			continue
		}
		if err := fw.Add(filepath.Dir(abs)); err != nil {
			w.logger.Warn("watcher: cannot watch source dir",
				slog.String("project", p.ID),
				slog.String("path", filepath.Dir(abs)),
				slog.String("error", err.Error()))
			continue
		}
		sources[abs] = p.ID
	}

	w.logger.Info("watcher: started", slog.Int("projects", len(sources)))

	timers := make(map[string]*time.Timer)
	fired := make(chan string, len(projects)+1)
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	schedule := func(id string) {
		if t, ok := timers[id]; ok {
			t.Reset(w.debounce)
			return
		}
		timers[id] = time.AfterFunc(w.debounce, func() {
			select {
			case fired <- id:
			case <-ctx.Done():
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher: stopped")
			return nil

		case id := <-fired:
			rep, err := w.sync.SyncProject(ctx, id)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				w.logger.Warn("watcher: sync failed", slog.String("project", id), slog.String("error", err.Error()))
				continue
			}
			w.logger.Info("watcher: synced",
				slog.String("project", id),
				slog.Int("upserted", rep.Upserted),
				slog.Int("deleted", rep.Deleted))

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			id, watched := sources[filepath.Clean(ev.Name)]
			if !watched || ev.Op == fsnotify.Chmod {
				continue
			}
			w.logger.Debug("watcher: source changed", slog.String("project", id), slog.String("op", ev.Op.String()))
			schedule(id)

		case watchErr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}
