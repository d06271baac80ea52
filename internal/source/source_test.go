package source

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/mnemo/internal/apperr"
)

const sample = `{
	"src/LoginScreen.tsx": {
		"summary": "Renders the login form",
		"purpose": "Authenticate users",
		"componentName": "LoginScreen",
		"isComponent": true,
		"functions": [{"name": "handleSubmit", "line": 12, "type": "function"}],
		"hooks": ["useState"],
		"keyLogic": "validates email before submit"
	},
	"src/util.ts": {
		"summary": "Helpers",
		"keyLogic": ["debounce", "throttle"]
	},
	"src/broken.ts": {
		"summary": 42,
		"functions": [{"name": "x", "line": -3}]
	}
}`

func TestParse_ValidAndInvalid(t *testing.T) {
	doc, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(doc.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(doc.Entries))
	}
	if len(doc.Invalid) != 1 || doc.Invalid[0].Path != "src/broken.ts" {
		t.Fatalf("invalid = %+v, want src/broken.ts", doc.Invalid)
	}
	if !errors.Is(doc.Invalid[0], apperr.ErrValidation) {
		t.Error("ValidationError should match ErrValidation")
	}
	if len(doc.Invalid[0].Problems) < 2 {
		t.Errorf("problems = %v, want both summary and line reported", doc.Invalid[0].Problems)
	}

	login := doc.Entries["src/LoginScreen.tsx"]
	if login.ComponentName != "LoginScreen" || !login.IsComponent {
		t.Errorf("login entry = %+v", login)
	}
	if len(login.Functions) != 1 || login.Functions[0].Line != 12 {
		t.Errorf("functions = %+v", login.Functions)
	}
	if len(login.KeyLogic) != 1 || login.KeyLogic[0] != "validates email before submit" {
		t.Errorf("keyLogic = %v", login.KeyLogic)
	}

	util := doc.Entries["src/util.ts"]
	if len(util.KeyLogic) != 2 {
		t.Errorf("keyLogic list = %v", util.KeyLogic)
	}

	paths := doc.Paths()
	if len(paths) != 2 || paths[0] != "src/LoginScreen.tsx" {
		t.Errorf("Paths = %v", paths)
	}
	if _, ok := doc.InvalidPaths()["src/broken.ts"]; !ok {
		t.Error("InvalidPaths missing src/broken.ts")
	}
}

func TestParse_HashIgnoresFormatting(t *testing.T) {
	a, _ := Parse([]byte(`{"a.go": {"summary": "x"}}`))
	b, _ := Parse([]byte("{\n  \"a.go\": {\n    \"summary\":   \"x\"\n  }\n}"))
	c, _ := Parse([]byte(`{"a.go": {"summary": "y"}}`))

	if a.Entries["a.go"].Hash != b.Entries["a.go"].Hash {
		t.Error("whitespace changed the hash")
	}
	if a.Entries["a.go"].Hash == c.Entries["a.go"].Hash {
		t.Error("content change kept the hash")
	}
}

func TestParse_NotAnObject(t *testing.T) {
	_, err := Parse([]byte(`["a.go"]`))
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestParse_EntryNotAnObject(t *testing.T) {
	doc, err := Parse([]byte(`{"a.go": "just a string", "b.go": {}}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(doc.Entries) != 1 || len(doc.Invalid) != 1 {
		t.Errorf("entries = %d invalid = %d, want 1 and 1", len(doc.Entries), len(doc.Invalid))
	}
}

func TestLoad_MissingIsEmpty(t *testing.T) {
	doc, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(doc.Entries) != 0 {
		t.Errorf("entries = %d, want 0", len(doc.Entries))
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "source.json")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatal(err)
	}
	doc, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(doc.Entries) != 2 {
		t.Errorf("entries = %d, want 2", len(doc.Entries))
	}
}
