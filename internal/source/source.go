// Package source reads the per-project JSON document that is the source of
// truth for file summaries and function locations.
package source

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/starford/mnemo/internal/apperr"
	"github.com/starford/mnemo/internal/checksum"
)

var schema = mustSchema(entrySchema)

func mustSchema(s string) *gojsonschema.Schema {
	sc, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(fmt.Sprintf("source: compile entry schema: %v", err))
	}
	return sc
}

// Function is a function location listed for a file.
type Function struct {
	Name string `json:"name"`
	Line int    `json:"line"`
	Type string `json:"type"`
}

// Entry is one validated file entry.
type Entry struct {
	Path          string
	Summary       string
	Purpose       string
	ComponentName string
	IsComponent   bool
	Functions     []Function
	Hooks         []string
	KeyLogic      []string
	// Hash identifies the entry content; unchanged entries keep their hash.
	Hash string
}

type rawEntry struct {
	Summary       string          `json:"summary"`
	Purpose       string          `json:"purpose"`
	ComponentName *string         `json:"componentName"`
	IsComponent   bool            `json:"isComponent"`
	Functions     []Function      `json:"functions"`
	Hooks         []string        `json:"hooks"`
	KeyLogic      json.RawMessage `json:"keyLogic"`
}

// ValidationError describes a malformed entry. It matches
// apperr.ErrValidation under errors.Is.
type ValidationError struct {
	Path     string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("source: entry %q: %s", e.Path, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Is(target error) bool { return target == apperr.ErrValidation }

// Document is a parsed source document. A malformed entry lands in Invalid
// without affecting the others.
type Document struct {
	Entries map[string]Entry
	Invalid []*ValidationError
}

// Paths returns the valid entry paths in sorted order.
func (d *Document) Paths() []string {
	out := make([]string, 0, len(d.Entries))
	for p := range d.Entries {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// InvalidPaths returns the set of paths whose entry failed validation.
func (d *Document) InvalidPaths() map[string]struct{} {
	out := make(map[string]struct{}, len(d.Invalid))
	for _, v := range d.Invalid {
		out[v.Path] = struct{}{}
	}
	return out
}

// Load reads and parses the document at path. A missing document yields an
// empty set.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Document{Entries: map[string]Entry{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("source: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a source document. Only a document that is not a JSON object
// fails as a whole.
func Parse(data []byte) (*Document, error) {
	doc := &Document{Entries: map[string]Entry{}}
	if len(bytes.TrimSpace(data)) == 0 {
		return doc, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("source: document is not a JSON object: %w: %w", apperr.ErrValidation, err)
	}

	for path, msg := range raw {
		e, verr := parseEntry(path, msg)
		if verr != nil {
			doc.Invalid = append(doc.Invalid, verr)
			continue
		}
		doc.Entries[path] = e
	}
	sort.Slice(doc.Invalid, func(i, j int) bool { return doc.Invalid[i].Path < doc.Invalid[j].Path })
	return doc, nil
}

func parseEntry(path string, msg json.RawMessage) (Entry, *ValidationError) {
	if strings.TrimSpace(path) == "" {
		return Entry{}, &ValidationError{Path: path, Problems: []string{"empty path"}}
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(msg))
	if err != nil {
		return Entry{}, &ValidationError{Path: path, Problems: []string{err.Error()}}
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, re := range result.Errors() {
			problems = append(problems, re.String())
		}
		return Entry{}, &ValidationError{Path: path, Problems: problems}
	}

	var r rawEntry
	if err := json.Unmarshal(msg, &r); err != nil {
		return Entry{}, &ValidationError{Path: path, Problems: []string{err.Error()}}
	}

	e := Entry{
		Path:        path,
		Summary:     strings.TrimSpace(r.Summary),
		Purpose:     strings.TrimSpace(r.Purpose),
		IsComponent: r.IsComponent,
		Functions:   r.Functions,
		Hooks:       r.Hooks,
		KeyLogic:    decodeKeyLogic(r.KeyLogic),
	}
	if r.ComponentName != nil {
		e.ComponentName = *r.ComponentName
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, msg); err != nil {
		compact.Write(msg)
	}
	e.Hash = checksum.Sum(compact.Bytes())
	return e, nil
}

// decodeKeyLogic accepts either a single string or a list of strings.
func decodeKeyLogic(msg json.RawMessage) []string {
	if len(msg) == 0 || string(msg) == "null" {
		return nil
	}
	var one string
	if err := json.Unmarshal(msg, &one); err == nil {
		if one = strings.TrimSpace(one); one == "" {
			return nil
		}
		return []string{one}
	}
	var many []string
	if err := json.Unmarshal(msg, &many); err == nil {
		return many
	}
	return nil
}
