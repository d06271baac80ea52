package freshness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"slices"
	"testing"
	"time"

	"github.com/starford/mnemo/internal/apperr"
	"github.com/starford/mnemo/internal/models"
	"github.com/starford/mnemo/internal/vcs"
)

type fakeSync struct {
	at  time.Time
	err error
}

func (f fakeSync) LastSync(context.Context, string) (time.Time, error) { return f.at, f.err }

type fakeEmbeddings struct {
	at  time.Time
	err error
}

func (f fakeEmbeddings) LastBuild(string) (time.Time, error) { return f.at, f.err }

type fakeVCS struct {
	changes []vcs.Change
	err     error
}

func (f fakeVCS) Since(context.Context, string, time.Time) ([]vcs.Change, error) {
	return f.changes, f.err
}

var (
	lastSync = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	before   = lastSync.Add(-time.Hour)
	after    = lastSync.Add(time.Hour)
)

// projectTree writes files under a temp root with the given mtimes.
func projectTree(t *testing.T, files map[string]time.Time) string {
	t.Helper()
	root := t.TempDir()
	for rel, mtime := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := os.Chtimes(p, mtime, mtime); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func newController(cfg Config, s SyncClock, e EmbeddingClock, v vcs.ChangeLog) *Controller {
	c := New(cfg, s, e, v, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	c.now = func() time.Time { return after.Add(time.Hour) }
	return c
}

func freshEmbeddings() fakeEmbeddings { return fakeEmbeddings{at: lastSync} }

func check(t *testing.T, c *Controller, root string) models.FreshnessSnapshot {
	t.Helper()
	snap, err := c.Check(context.Background(), Input{ProjectID: "demo", RootPath: root})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	return snap
}

func TestCheck_NoChanges(t *testing.T) {
	root := projectTree(t, map[string]time.Time{"src/a.ts": before, "src/b.ts": before})
	c := newController(DefaultConfig(), fakeSync{at: lastSync}, freshEmbeddings(), fakeVCS{})

	snap := check(t, c, root)
	if snap.Recommendation != models.RecommendNone {
		t.Errorf("recommendation = %q, want none", snap.Recommendation)
	}
	if len(snap.ChangedFilesSinceLastScan) != 0 {
		t.Errorf("changed = %v, want none", snap.ChangedFilesSinceLastScan)
	}
	if !snap.VCSAvailable {
		t.Error("VCSAvailable = false, want true")
	}
	if snap.LastScanAt == nil || !snap.LastScanAt.Equal(lastSync) {
		t.Errorf("LastScanAt = %v, want %v", snap.LastScanAt, lastSync)
	}
}

func TestCheck_ModifiedFileIsIncremental(t *testing.T) {
	root := projectTree(t, map[string]time.Time{"src/a.ts": after, "src/b.ts": before})
	c := newController(DefaultConfig(), fakeSync{at: lastSync}, freshEmbeddings(), fakeVCS{})

	snap := check(t, c, root)
	if snap.Recommendation != models.RecommendIncremental {
		t.Errorf("recommendation = %q, want incremental", snap.Recommendation)
	}
	if want := []string{"src/a.ts"}; !reflect.DeepEqual(snap.ChangedFilesSinceLastScan, want) {
		t.Errorf("changed = %v, want %v", snap.ChangedFilesSinceLastScan, want)
	}
}

func TestCheck_DeletedFileIsFull(t *testing.T) {
	root := projectTree(t, map[string]time.Time{"src/a.ts": before})
	changes := fakeVCS{changes: []vcs.Change{{Path: "src/old.ts", Type: models.ChangeDeleted}}}
	c := newController(DefaultConfig(), fakeSync{at: lastSync}, freshEmbeddings(), changes)

	snap := check(t, c, root)
	if snap.Recommendation != models.RecommendFull {
		t.Errorf("recommendation = %q, want full", snap.Recommendation)
	}
	if want := []string{"src/old.ts"}; !reflect.DeepEqual(snap.GitDelta.Deleted, want) {
		t.Errorf("deleted = %v, want %v", snap.GitDelta.Deleted, want)
	}
	if len(snap.ChangedFilesSinceLastScan) != 0 {
		t.Errorf("changed = %v, want none", snap.ChangedFilesSinceLastScan)
	}
}

func TestCheck_AddedFileIsFullRegardlessOfCount(t *testing.T) {
	root := projectTree(t, map[string]time.Time{"src/a.ts": before})
	changes := fakeVCS{changes: []vcs.Change{{Path: "src/new.ts", Type: models.ChangeAdded}}}
	cfg := DefaultConfig()
	cfg.ChangedFileThreshold = 1000
	c := newController(cfg, fakeSync{at: lastSync}, freshEmbeddings(), changes)

	if snap := check(t, c, root); snap.Recommendation != models.RecommendFull {
		t.Errorf("recommendation = %q, want full", snap.Recommendation)
	}
}

func TestCheck_ThresholdReachedIsFull(t *testing.T) {
	files := map[string]time.Time{}
	for i := 0; i < 3; i++ {
		files[fmt.Sprintf("src/f%d.go", i)] = after
	}
	root := projectTree(t, files)
	cfg := DefaultConfig()
	cfg.ChangedFileThreshold = 3
	c := newController(cfg, fakeSync{at: lastSync}, freshEmbeddings(), fakeVCS{})

	snap := check(t, c, root)
	if snap.Recommendation != models.RecommendFull {
		t.Errorf("recommendation = %q, want full", snap.Recommendation)
	}
	if len(snap.ChangedFilesSinceLastScan) != 3 {
		t.Errorf("changed = %v, want 3 files", snap.ChangedFilesSinceLastScan)
	}
}

func TestCheck_NeverSyncedIsFull(t *testing.T) {
	root := projectTree(t, map[string]time.Time{"a.go": after})
	c := newController(DefaultConfig(), fakeSync{}, fakeEmbeddings{}, nil)

	snap := check(t, c, root)
	if snap.Recommendation != models.RecommendFull {
		t.Errorf("recommendation = %q, want full", snap.Recommendation)
	}
	if snap.LastScanAt != nil || snap.LastEmbeddingsAt != nil {
		t.Errorf("timestamps = %v, %v, want nil", snap.LastScanAt, snap.LastEmbeddingsAt)
	}
	for _, reason := range []string{"project was never synced", "embeddings missing"} {
		if !slices.Contains(snap.Reasons, reason) {
			t.Errorf("reasons = %v, missing %q", snap.Reasons, reason)
		}
	}
}

func TestCheck_StaleEmbeddingsIsFull(t *testing.T) {
	root := projectTree(t, map[string]time.Time{"a.go": before})
	cfg := DefaultConfig()
	cfg.EmbeddingTTL = time.Hour
	c := newController(cfg, fakeSync{at: lastSync}, fakeEmbeddings{at: lastSync.Add(-48 * time.Hour)}, fakeVCS{})

	if snap := check(t, c, root); snap.Recommendation != models.RecommendFull {
		t.Errorf("recommendation = %q, want full", snap.Recommendation)
	}
}

func TestCheck_VCSUnavailableFallsBackToMtime(t *testing.T) {
	root := projectTree(t, map[string]time.Time{"a.go": after})
	c := newController(DefaultConfig(), fakeSync{at: lastSync}, freshEmbeddings(),
		fakeVCS{err: fmt.Errorf("vcs: git rev-parse: %w", apperr.ErrUnavailable)})

	snap := check(t, c, root)
	if snap.VCSAvailable {
		t.Error("VCSAvailable = true, want false")
	}
	if snap.Recommendation != models.RecommendIncremental {
		t.Errorf("recommendation = %q, want incremental", snap.Recommendation)
	}
}

func TestCheck_ExcludedDirsAndExtensions(t *testing.T) {
	root := projectTree(t, map[string]time.Time{
		"node_modules/lib/index.js": after,
		"dist/bundle.js":            after,
		"README.md":                 after,
		"src/app.ts":                before,
	})
	changes := fakeVCS{changes: []vcs.Change{{Path: "node_modules/x.js", Type: models.ChangeAdded}}}
	c := newController(DefaultConfig(), fakeSync{at: lastSync}, freshEmbeddings(), changes)

	snap := check(t, c, root)
	if snap.Recommendation != models.RecommendNone {
		t.Errorf("recommendation = %q, want none", snap.Recommendation)
	}
	if len(snap.GitDelta.Added) != 0 {
		t.Errorf("added = %v, want none", snap.GitDelta.Added)
	}
}

func TestCheck_StoreUnavailableIsFull(t *testing.T) {
	root := projectTree(t, map[string]time.Time{"a.go": before})
	c := newController(DefaultConfig(), fakeSync{err: apperr.ErrStoreUnavailable}, freshEmbeddings(), fakeVCS{})

	snap := check(t, c, root)
	if snap.Recommendation != models.RecommendFull {
		t.Errorf("recommendation = %q, want full", snap.Recommendation)
	}
	if !slices.Contains(snap.Reasons, "structured store unavailable") {
		t.Errorf("reasons = %v", snap.Reasons)
	}
}

func TestCheck_Cancelled(t *testing.T) {
	root := projectTree(t, map[string]time.Time{"a.go": after})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := newController(DefaultConfig(), fakeSync{at: lastSync}, freshEmbeddings(), fakeVCS{})

	if _, err := c.Check(ctx, Input{ProjectID: "demo", RootPath: root}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

// A dirty working tree left over from before the last sync must not keep
// the project stale.
func TestCheck_WorkTreeChangesBeforeSyncAreFresh(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	root := t.TempDir()
	t.Setenv("GIT_CEILING_DIRECTORIES", filepath.Dir(root))
	t.Setenv("GIT_CONFIG_GLOBAL", os.DevNull)
	t.Setenv("GIT_AUTHOR_NAME", "test")
	t.Setenv("GIT_AUTHOR_EMAIL", "test@example.com")
	t.Setenv("GIT_COMMITTER_NAME", "test")
	t.Setenv("GIT_COMMITTER_EMAIL", "test@example.com")
	git := func(args ...string) {
		t.Helper()
		if out, err := exec.Command("git", append([]string{"-C", root}, args...)...).CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	git("init", "-q")
	if err := os.WriteFile(filepath.Join(root, "base.ts"), []byte("export {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	git("add", ".")
	git("commit", "-q", "-m", "init")

	hourAgo := time.Now().Add(-time.Hour)
	if err := os.WriteFile(filepath.Join(root, "a.ts"), []byte("export const a = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{filepath.Join(root, "a.ts"), root} {
		if err := os.Chtimes(p, hourAgo, hourAgo); err != nil {
			t.Fatal(err)
		}
	}

	synced := time.Now()
	c := New(DefaultConfig(), fakeSync{at: synced}, fakeEmbeddings{at: synced}, vcs.Git{},
		slog.New(slog.NewJSONHandler(io.Discard, nil)))
	snap := check(t, c, root)
	if snap.Recommendation != models.RecommendNone {
		t.Errorf("recommendation = %q, reasons = %v, want none", snap.Recommendation, snap.Reasons)
	}
	if len(snap.GitDelta.Added) != 0 {
		t.Errorf("added = %v, want none", snap.GitDelta.Added)
	}
}

func TestFilter(t *testing.T) {
	f := newFilter([]string{"go", ".TS"}, []string{"vendor"})
	for path, want := range map[string]bool{
		"pkg/a.go":      true,
		"web/App.ts":    true,
		"vendor/x/a.go": false,
		"notes.md":      false,
	} {
		if got := f.match(path); got != want {
			t.Errorf("match(%q) = %v, want %v", path, got, want)
		}
	}

	if all := newFilter(nil, nil); !all.match("anything.txt") {
		t.Error("empty filter should match every file")
	}
}

func TestUnchecked(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("x", 3600))
	snap := Unchecked("demo", now, "configuration unreadable")
	if snap.Recommendation != models.RecommendFull || !slices.Equal(snap.Reasons, []string{"configuration unreadable"}) {
		t.Errorf("snapshot = %+v", snap)
	}
	if !snap.CheckedAt.Equal(now) || snap.CheckedAt.Location() != time.UTC {
		t.Errorf("checked at = %v, want %v in UTC", snap.CheckedAt, now)
	}
	if snap.ChangedFilesSinceLastScan == nil || snap.LastScanAt != nil {
		t.Errorf("snapshot = %+v", snap)
	}
}
