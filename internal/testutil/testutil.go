// Package testutil provides shared test helpers for setting up stores and a
// fully wired service over a temporary project.
package testutil

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/mnemo/internal/classify"
	"github.com/starford/mnemo/internal/embedding"
	"github.com/starford/mnemo/internal/freshness"
	"github.com/starford/mnemo/internal/index"
	"github.com/starford/mnemo/internal/models"
	"github.com/starford/mnemo/internal/search"
	"github.com/starford/mnemo/internal/service"
	"github.com/starford/mnemo/internal/storage"
	"github.com/starford/mnemo/internal/syncer"
)

// ProjectID is the id of the project every Env is configured with.
const ProjectID = "demo"

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "mnemo-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestArtifacts creates a temporary artifact directory with a storage.Provider.
func TestArtifacts(t *testing.T) (string, *storage.FS) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// Env is a service wired over temporary stores and one project whose root
// and source document live in a temp directory.
type Env struct {
	Root       string
	SourcePath string
	DB         *index.DB
	Embeddings *embedding.Index
	Syncer     *syncer.Syncer
	Service    *service.Service
	Events     chan syncer.Event
}

// NewEnv builds an Env. The source document does not exist until WriteSource
// is called.
func NewEnv(t *testing.T) *Env {
	t.Helper()
	root := t.TempDir()
	db := TestDB(t)
	_, fs := TestArtifacts(t)
	logger := Logger()

	emb := embedding.New(embedding.NewHash(256), fs, embedding.Options{}, logger)
	env := &Env{
		Root:       root,
		SourcePath: filepath.Join(root, ".mnemo", "files.json"),
		DB:         db,
		Embeddings: emb,
		Events:     make(chan syncer.Event, 64),
	}
	project := syncer.Project{
		Project:    models.Project{ID: ProjectID, DisplayName: "Demo", RootPath: root},
		SourcePath: env.SourcePath,
	}
	env.Syncer = syncer.New(db, emb, []syncer.Project{project}, logger,
		syncer.WithEventFunc(func(e syncer.Event) {
			select {
			case env.Events <- e:
			default:
			}
		}))
	fresh := freshness.New(freshness.DefaultConfig(), db, emb, nil, logger)
	engine := search.New(db, emb, logger)
	env.Service = service.New(db, engine, env.Syncer, fresh, classify.New(classify.DefaultRules, ""), emb, logger)
	return env
}

// WriteSource writes the project's source document.
func (e *Env) WriteSource(t *testing.T, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(e.SourcePath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(e.SourcePath, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

// DemoSource is a two-file source document used across tests.
const DemoSource = `{
	"src/auth/login.ts": {
		"summary": "Handles the user login flow",
		"purpose": "authenticate users against the session API",
		"functions": [{"name": "loginUser", "line": 12, "type": "function"}],
		"keyLogic": ["validate credentials", "store session token"]
	},
	"src/ui/Dashboard.tsx": {
		"summary": "Renders dashboard widgets",
		"componentName": "Dashboard",
		"isComponent": true,
		"functions": [{"name": "Dashboard", "line": 5, "type": "component"}]
	}
}`
