package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/starford/mnemo/internal/apperr"
	"github.com/starford/mnemo/internal/classify"
	"github.com/starford/mnemo/internal/embedding"
	"github.com/starford/mnemo/internal/freshness"
	"github.com/starford/mnemo/internal/index"
	"github.com/starford/mnemo/internal/models"
	"github.com/starford/mnemo/internal/search"
	"github.com/starford/mnemo/internal/service"
	"github.com/starford/mnemo/internal/storage"
	"github.com/starford/mnemo/internal/syncer"
	"github.com/starford/mnemo/internal/vcs"
)

// Runtime holds every component built from one Config.
type Runtime struct {
	Config     *Config
	Logger     *slog.Logger
	DB         *index.DB
	Embeddings *embedding.Index
	Syncer     *syncer.Syncer
	Freshness  *freshness.Controller
	Service    *service.Service
}

// RuntimeOptions tunes NewRuntime.
type RuntimeOptions struct {
	// ReadOnly opens an existing store instead of creating one.
	ReadOnly bool
	// OnEvent receives sync writer events.
	OnEvent func(syncer.Event)
}

// NewRuntime opens the stores and wires the components. A missing store in
// read-only mode is reported as apperr.ErrStoreUnavailable.
func NewRuntime(cfg *Config, logger *slog.Logger, opts RuntimeOptions) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		db  *index.DB
		err error
	)
	if opts.ReadOnly {
		db, err = index.OpenExisting(cfg.SQLite.Path)
	} else {
		if dir := filepath.Dir(cfg.SQLite.Path); dir != "" {
			if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", mkErr)
			}
		}
		db, err = index.Open(cfg.SQLite.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}

	emb, err := newEmbeddings(cfg, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	var syncOpts []syncer.Option
	if opts.OnEvent != nil {
		syncOpts = append(syncOpts, syncer.WithEventFunc(opts.OnEvent))
	}
	sync := syncer.New(db, emb, cfg.SyncProjects(), logger, syncOpts...)
	fresh := freshness.New(cfg.Freshness.Controller(), db, emb, vcs.Git{}, logger)
	engine := search.New(db, emb, logger)
	classifier := classify.New(classify.DefaultRules, models.Category(cfg.Classify.Fallback))

	return &Runtime{
		Config:     cfg,
		Logger:     logger,
		DB:         db,
		Embeddings: emb,
		Syncer:     sync,
		Freshness:  fresh,
		Service:    service.New(db, engine, sync, fresh, classifier, emb, logger),
	}, nil
}

func newEmbeddings(cfg *Config, logger *slog.Logger) (*embedding.Index, error) {
	provider, err := embedding.NewProvider(cfg.Embeddings.ProviderConfig())
	if err != nil {
		return nil, fmt.Errorf("init embedding provider: %w", err)
	}
	snapshots, err := storage.NewFS(cfg.Embeddings.SnapshotDir)
	if err != nil {
		return nil, fmt.Errorf("init embedding storage: %w", err)
	}
	return embedding.New(provider, snapshots, cfg.Embeddings.IndexOptions(), logger), nil
}

// Close releases the structured store.
func (r *Runtime) Close() error {
	return r.DB.Close()
}

// storeDown is a sync clock for a store that could not be opened. Every
// lookup fails, which the freshness controller turns into a full rebuild.
type storeDown struct{ err error }

func (s storeDown) LastSync(context.Context, string) (time.Time, error) { return time.Time{}, s.err }

// NewFreshnessOnly builds a freshness controller that works even when the
// structured store is missing or corrupt. The returned close func is never
// nil.
func NewFreshnessOnly(cfg *Config, logger *slog.Logger) (*freshness.Controller, func() error, error) {
	emb, err := newEmbeddings(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	var clock freshness.SyncClock
	closer := func() error { return nil }
	db, err := index.OpenExisting(cfg.SQLite.Path)
	switch {
	case err == nil:
		clock, closer = db, db.Close
	case errors.Is(err, apperr.ErrStoreUnavailable):
		logger.Warn("freshness: structured store unavailable", slog.String("error", err.Error()))
		clock = storeDown{err: err}
	default:
		return nil, nil, err
	}
	return freshness.New(cfg.Freshness.Controller(), clock, emb, vcs.Git{}, logger), closer, nil
}

// CheckFreshness runs one standalone check. A controller that cannot be
// built is reported as an unchecked snapshot; only cancellation fails.
func CheckFreshness(ctx context.Context, cfg *Config, logger *slog.Logger, in freshness.Input) (models.FreshnessSnapshot, error) {
	ctrl, closeFn, err := NewFreshnessOnly(cfg, logger)
	if err != nil {
		logger.Warn("freshness: setup failed", slog.String("error", err.Error()))
		return freshness.Unchecked(in.ProjectID, time.Now(), "indexes unreadable: "+err.Error()), nil
	}
	defer closeFn()
	return ctrl.Check(ctx, in)
}
