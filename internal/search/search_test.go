package search

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/starford/mnemo/internal/apperr"
	"github.com/starford/mnemo/internal/embedding"
	"github.com/starford/mnemo/internal/index"
	"github.com/starford/mnemo/internal/models"
	"github.com/starford/mnemo/internal/storage"
)

type downProvider struct{ *embedding.Hash }

func (downProvider) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("provider down")
}

func setup(t *testing.T) (*Engine, *index.DB, *storage.FS) {
	t.Helper()
	dir := t.TempDir()
	db, err := index.Open(filepath.Join(dir, "mnemo.db"))
	if err != nil {
		t.Fatalf("index.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	fs, err := storage.NewFS(filepath.Join(dir, "emb"))
	if err != nil {
		t.Fatalf("storage.NewFS: %v", err)
	}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	emb := embedding.New(embedding.NewHash(128), fs, embedding.Options{}, logger)

	ctx := context.Background()
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(db.UpsertProject(ctx, models.Project{ID: "demo", DisplayName: "Demo App"}))
	id, err := db.UpsertFile(ctx, index.FileRow{ProjectID: "demo", Path: "a.ts", Summary: "handles login flow"})
	must(err)
	must(db.ReplaceFunctions(ctx, id, []index.FunctionRow{{Name: "submitLogin", LineNumber: 7}}))
	_, err = db.UpsertFile(ctx, index.FileRow{ProjectID: "demo", Path: "b.ts", Summary: "renders dashboard widgets"})
	must(err)
	_, err = db.AddObservation(ctx, models.Observation{ProjectID: "demo", Category: models.CategoryGotcha, Text: "login cookie expires early"})
	must(err)

	must(emb.Build(ctx, "demo", []embedding.Document{
		{Path: "a.ts", Text: "handles login flow"},
		{Path: "b.ts", Text: "renders dashboard widgets"},
		{Path: "c.ts", Text: "login form validation flow"},
	}))
	return New(db, emb, logger), db, fs
}

func TestSearch_Files(t *testing.T) {
	e, _, _ := setup(t)
	resp, err := e.Search(context.Background(), Request{Query: "login", ProjectID: "demo"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if resp.Kind != KindFiles {
		t.Errorf("kind = %q, want files", resp.Kind)
	}
	hits, ok := resp.Results.([]index.FileHit)
	if !ok || len(hits) != 1 {
		t.Fatalf("results = %#v, want one file hit", resp.Results)
	}
	if hits[0].Path != "a.ts" || hits[0].ProjectName != "Demo App" {
		t.Errorf("hit = %+v", hits[0])
	}

	resp, err = e.Search(context.Background(), Request{Query: "login", ProjectID: "other"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if resp.Count != 0 || !reflect.DeepEqual(resp.Results, []index.FileHit{}) {
		t.Errorf("other project = %+v, want empty non-nil results", resp)
	}
}

func TestSearch_Functions(t *testing.T) {
	e, _, _ := setup(t)
	resp, err := e.Search(context.Background(), Request{Query: "login", Kind: KindFunctions})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	hits := resp.Results.([]index.FunctionHit)
	if len(hits) != 1 || hits[0].Name != "submitLogin" || hits[0].FilePath != "a.ts" {
		t.Errorf("hits = %+v, want submitLogin in a.ts", hits)
	}
}

func TestSearch_Observations(t *testing.T) {
	e, _, _ := setup(t)
	ctx := context.Background()
	resp, err := e.Search(ctx, Request{Query: "cookie", Kind: KindObservations, Category: models.CategoryGotcha})
	if err != nil || resp.Count != 1 {
		t.Errorf("gotcha search = %d, %v, want 1", resp.Count, err)
	}

	resp, err = e.Search(ctx, Request{Query: "cookie", Kind: KindObservations, Category: models.CategoryDecision})
	if err != nil || resp.Count != 0 {
		t.Errorf("decision search = %d, %v, want 0", resp.Count, err)
	}

	resp, err = e.Search(ctx, Request{Kind: KindObservations, ProjectID: "demo"})
	if err != nil || resp.Count != 1 {
		t.Errorf("empty observation query = %d, %v, want the recent one", resp.Count, err)
	}
}

func TestSearch_Validation(t *testing.T) {
	e, _, _ := setup(t)
	ctx := context.Background()

	for name, req := range map[string]Request{
		"unknown kind":     {Query: "x", Kind: "symbols"},
		"blank query":      {Query: "  "},
		"unknown category": {Query: "x", Kind: KindObservations, Category: "rumour"},
	} {
		if _, err := e.Search(ctx, req); !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("%s: err = %v, want ErrValidation", name, err)
		}
	}
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{"": KindFiles, "Functions": KindFunctions} {
		got, err := ParseKind(in)
		if err != nil || got != want {
			t.Errorf("ParseKind(%q) = %q, %v, want %q", in, got, err, want)
		}
	}
}

func TestSemanticAndSimilar(t *testing.T) {
	e, _, _ := setup(t)
	ctx := context.Background()

	hits, err := e.Semantic(ctx, "demo", "login flow", 2)
	if err != nil {
		t.Fatalf("Semantic: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("hits = %+v, want 2", hits)
	}
	if p := hits[0].Path; p != "a.ts" && p != "c.ts" {
		t.Errorf("top hit = %s, want a login file", p)
	}
	if hits[0].ProjectName != "Demo App" {
		t.Errorf("project name = %q", hits[0].ProjectName)
	}

	hits, err = e.Similar(ctx, "demo", "a.ts", 5)
	if err != nil {
		t.Fatalf("Similar: %v", err)
	}
	if len(hits) != 2 || hits[0].Path != "c.ts" {
		t.Fatalf("similar = %+v, want c.ts first", hits)
	}
	if hits[0].Summary != "" {
		t.Errorf("c.ts has a vector but no file row, summary = %q", hits[0].Summary)
	}
	if hits[0].Excerpt != "login form validation flow" {
		t.Errorf("excerpt = %q", hits[0].Excerpt)
	}

	if _, err := e.Similar(ctx, "demo", "zzz.ts", 5); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown path err = %v, want ErrNotFound", err)
	}
	if _, err := e.Semantic(ctx, "nothing", "login", 5); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown project err = %v, want ErrNotFound", err)
	}
}

func TestSimilarSurvivesProviderOutage(t *testing.T) {
	_, db, fs := setup(t)
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	emb := embedding.New(downProvider{embedding.NewHash(128)}, fs, embedding.Options{}, logger)
	e := New(db, emb, logger)

	if _, err := e.Semantic(context.Background(), "demo", "login", 3); !errors.Is(err, apperr.ErrProvider) {
		t.Errorf("Semantic err = %v, want ErrProvider", err)
	}

	hits, err := e.Similar(context.Background(), "demo", "a.ts", 3)
	if err != nil {
		t.Fatalf("stored vectors should stay queryable: %v", err)
	}
	if len(hits) == 0 {
		t.Error("Similar returned no hits")
	}
}

func TestNilEmbeddings(t *testing.T) {
	_, db, _ := setup(t)
	e := New(db, nil, nil)
	if _, err := e.Semantic(context.Background(), "demo", "x", 1); !errors.Is(err, apperr.ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}
