package syncer

import (
	"testing"

	"github.com/starford/mnemo/internal/source"
)

func TestHumanizeFilename(t *testing.T) {
	tests := map[string]string{
		"src/LoginScreen.tsx":   "login screen",
		"pkg/http_handler.go":   "http handler",
		"lib/HTMLParser.js":     "html parser",
		"config/app-settings.y": "app settings",
		".env":                  "env",
	}
	for in, want := range tests {
		if got := humanizeFilename(in); got != want {
			t.Errorf("humanizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEmbeddingText(t *testing.T) {
	e := source.Entry{Path: "a.go", Summary: "Summary.", Purpose: " Purpose ", KeyLogic: []string{"one", ""}}
	if got := embeddingText(e); got != "Summary.\nPurpose\none" {
		t.Errorf("embeddingText = %q", got)
	}
	if got := embeddingText(source.Entry{Path: "src/LoginScreen.tsx"}); got != "login screen" {
		t.Errorf("fallback text = %q, want %q", got, "login screen")
	}
}
