package internal

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	fc := cfg.Freshness.Controller()
	if fc.ChangedFileThreshold != 20 {
		t.Errorf("threshold = %d, want 20", fc.ChangedFileThreshold)
	}
	if fc.EmbeddingTTL != 7*24*time.Hour {
		t.Errorf("ttl = %v", fc.EmbeddingTTL)
	}
	if len(fc.Extensions) == 0 {
		t.Error("expected built-in extensions")
	}
}

func TestFreshnessConfig_Schedule(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Freshness.Schedule = "*/15 * * * *"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid schedule rejected: %v", err)
	}
	cfg.Freshness.Schedule = "every tuesday"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected invalid schedule to fail")
	}
}

func TestEmbeddingsConfig_OpenAIRequiresKey(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Embeddings.Provider = "openai"
	if err := cfg.Validate(); err == nil {
		t.Fatal("openai without api key should fail")
	}
	cfg.Embeddings.APIKey = "sk-test"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("openai with key should pass: %v", err)
	}

	cfg.Embeddings.Provider = "word2vec"
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown provider should fail")
	}
}

func TestClassifyConfig_Fallback(t *testing.T) {
	cfg := ClassifyConfig{Fallback: "rumour"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown fallback should fail")
	}
}

func TestProjects_DefaultsAndDuplicates(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Projects = []ProjectConfig{{ID: "web-app", RootPath: "/src/web"}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	p := cfg.Projects[0]
	if p.DisplayName != "web-app" {
		t.Errorf("display name = %q", p.DisplayName)
	}
	if want := filepath.Join("/src/web", ".mnemo", "files.json"); p.SourcePath != want {
		t.Errorf("source path = %q, want %q", p.SourcePath, want)
	}

	sp := cfg.SyncProjects()
	if len(sp) != 1 || sp[0].ID != "web-app" || sp[0].SourcePath != p.SourcePath {
		t.Errorf("sync projects = %+v", sp)
	}

	cfg.Projects = append(cfg.Projects, ProjectConfig{ID: "web-app", RootPath: "/other"})
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate id error, got %v", err)
	}
}

func TestProjects_RejectsUnsafeID(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Projects = []ProjectConfig{{ID: "../escape", RootPath: "/src"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected unsafe id to fail")
	}
}
