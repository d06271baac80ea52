package service_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/starford/mnemo/internal/apperr"
	"github.com/starford/mnemo/internal/models"
	"github.com/starford/mnemo/internal/search"
	"github.com/starford/mnemo/internal/service"
	"github.com/starford/mnemo/internal/testutil"
)

func TestRefresh_NeverSyncedRunsFullRebuild(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	env.WriteSource(t, testutil.DemoSource)

	snap, rep, err := env.Service.Refresh(ctx, testutil.ProjectID)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if snap.Recommendation != models.RecommendFull {
		t.Errorf("recommendation = %q, want full", snap.Recommendation)
	}
	if !slices.Contains(snap.Reasons, "project was never synced") {
		t.Errorf("reasons = %v", snap.Reasons)
	}
	if rep.Upserted != 2 {
		t.Errorf("upserted = %d, want 2", rep.Upserted)
	}

	snap, err = env.Service.Freshness(ctx, testutil.ProjectID)
	if err != nil {
		t.Fatalf("Freshness: %v", err)
	}
	if snap.Recommendation != models.RecommendNone {
		t.Errorf("after refresh = %q, reasons = %v, want none", snap.Recommendation, snap.Reasons)
	}
	if snap.LastScanAt == nil || snap.LastEmbeddingsAt == nil {
		t.Errorf("timestamps = %v, %v, want both set", snap.LastScanAt, snap.LastEmbeddingsAt)
	}
}

func TestSync_Modes(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	env.WriteSource(t, testutil.DemoSource)

	if _, err := env.Service.Sync(ctx, service.SyncInput{ProjectID: testutil.ProjectID, Path: "a", Full: true}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("path+full err = %v, want ErrValidation", err)
	}

	rep, err := env.Service.Sync(ctx, service.SyncInput{ProjectID: testutil.ProjectID, Path: "src/auth/login.ts"})
	if err != nil {
		t.Fatalf("Sync path: %v", err)
	}
	if rep.Upserted != 1 {
		t.Errorf("path upserted = %d, want 1", rep.Upserted)
	}

	rep, err = env.Service.Sync(ctx, service.SyncInput{ProjectID: testutil.ProjectID})
	if err != nil {
		t.Fatalf("Sync project: %v", err)
	}
	if rep.Upserted != 1 || rep.Unchanged != 1 {
		t.Errorf("project sync = %+v, want 1 upserted, 1 unchanged", rep)
	}

	if _, err := env.Service.Sync(ctx, service.SyncInput{ProjectID: "nope"}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown project err = %v, want ErrNotFound", err)
	}
}

func TestSearchAndSemantic(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	env.WriteSource(t, testutil.DemoSource)
	if _, err := env.Service.Sync(ctx, service.SyncInput{ProjectID: testutil.ProjectID}); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	resp, err := env.Service.Search(ctx, search.Request{Query: "login", Kind: search.KindFiles})
	if err != nil || resp.Count != 1 {
		t.Fatalf("Search = %d, %v, want 1 hit", resp.Count, err)
	}

	hits, err := env.Service.Semantic(ctx, testutil.ProjectID, "user login session", 5)
	if err != nil {
		t.Fatalf("Semantic: %v", err)
	}
	if len(hits) == 0 || hits[0].Path != "src/auth/login.ts" {
		t.Errorf("semantic hits = %+v, want login.ts first", hits)
	}

	similar, err := env.Service.Similar(ctx, testutil.ProjectID, "src/auth/login.ts", 5)
	if err != nil {
		t.Fatalf("Similar: %v", err)
	}
	for _, h := range similar {
		if h.Path == "src/auth/login.ts" {
			t.Error("Similar returned the query file itself")
		}
	}

	if _, err := env.Service.Similar(ctx, testutil.ProjectID, " ", 5); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("blank path err = %v, want ErrValidation", err)
	}
	if _, err := env.Service.Semantic(ctx, "nope", "login", 5); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown project err = %v, want ErrNotFound", err)
	}
}

func TestObserve(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	o, err := env.Service.Observe(ctx, service.ObserveInput{
		ProjectID: testutil.ProjectID,
		Text:      "Fixed a crash in the login bug path",
	})
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if o.Category != models.CategoryBugfix || o.ID == "" || o.Files == nil {
		t.Errorf("observation = %+v, want classified bugfix with id and files", o)
	}

	o, err = env.Service.Observe(ctx, service.ObserveInput{Category: "Decision", Text: "went with sqlite"})
	if err != nil {
		t.Fatalf("Observe global: %v", err)
	}
	if o.Category != models.CategoryDecision || o.ProjectID != "" {
		t.Errorf("global observation = %+v", o)
	}

	for name, in := range map[string]service.ObserveInput{
		"bad category": {Category: "rumour", Text: "x"},
		"blank text":   {Text: "   "},
	} {
		if _, err := env.Service.Observe(ctx, in); !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("%s: err = %v, want ErrValidation", name, err)
		}
	}
	if _, err := env.Service.Observe(ctx, service.ObserveInput{ProjectID: "nope", Text: "hello"}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown project err = %v, want ErrNotFound", err)
	}
}

func TestProjects(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	if err := env.Service.MirrorProjects(ctx); err != nil {
		t.Fatalf("MirrorProjects: %v", err)
	}

	list, err := env.Service.Projects(ctx)
	if err != nil {
		t.Fatalf("Projects: %v", err)
	}
	if len(list) != 1 || list[0].LastSyncAt != nil || list[0].Stats.Files != 0 {
		t.Fatalf("projects before sync = %+v", list)
	}

	env.WriteSource(t, testutil.DemoSource)
	if _, err := env.Service.Sync(ctx, service.SyncInput{ProjectID: testutil.ProjectID}); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	list, err = env.Service.Projects(ctx)
	if err != nil {
		t.Fatalf("Projects: %v", err)
	}
	p := list[0]
	if p.Stats.Files != 2 || p.Stats.Functions != 2 || p.Embedded != 2 || p.LastSyncAt == nil {
		t.Errorf("project after sync = %+v", p)
	}
	if err := env.Service.Ready(ctx); err != nil {
		t.Errorf("Ready: %v", err)
	}
}
