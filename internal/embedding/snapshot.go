package embedding

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"time"
	"unicode/utf8"

	"github.com/starford/mnemo/internal/apperr"
	"github.com/starford/mnemo/internal/storage"
)

const (
	snapshotVersion = 1
	excerptRunes    = 512
)

// snapshot is the persisted embedding set of one project. A published
// snapshot is never mutated; writers build a new one and swap the pointer.
type snapshot struct {
	Version   int               `json:"version"`
	Model     string            `json:"model"`
	Dimension int               `json:"dimension"`
	UpdatedAt time.Time         `json:"updatedAt"`
	Files     map[string]record `json:"files"`
}

type record struct {
	Embedding []float32 `json:"embedding"`
	Text      string    `json:"text"`
	Hash      string    `json:"hash,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// clone returns a copy whose file map can be modified without touching s.
func (s *snapshot) clone() *snapshot {
	c := *s
	c.Files = make(map[string]record, len(s.Files)+1)
	for k, v := range s.Files {
		c.Files[k] = v
	}
	return &c
}

func snapshotName(projectID string) string {
	return projectID + ".json"
}

// loadSnapshot reads a project's snapshot. A missing file yields (nil, nil).
func loadSnapshot(store storage.Provider, projectID string) (*snapshot, error) {
	data, err := store.Read(snapshotName(projectID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("embedding: read snapshot %s: %w: %w", projectID, apperr.ErrStoreUnavailable, err)
	}
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("embedding: decode snapshot %s: %w: %w", projectID, apperr.ErrStoreUnavailable, err)
	}
	if s.Version != snapshotVersion {
		return nil, fmt.Errorf("embedding: snapshot %s version %d: %w", projectID, s.Version, apperr.ErrStoreUnavailable)
	}
	if s.Files == nil {
		s.Files = map[string]record{}
	}
	for p, r := range s.Files {
		if len(r.Embedding) != s.Dimension {
			return nil, fmt.Errorf("embedding: snapshot %s: %s has dimension %d, want %d: %w",
				projectID, p, len(r.Embedding), s.Dimension, apperr.ErrStoreUnavailable)
		}
	}
	return &s, nil
}

func saveSnapshot(store storage.Provider, projectID string, s *snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("embedding: encode snapshot %s: %w", projectID, err)
	}
	if err := store.Write(snapshotName(projectID), data); err != nil {
		return fmt.Errorf("embedding: write snapshot %s: %w: %w", projectID, apperr.ErrStoreUnavailable, err)
	}
	return nil
}

func excerpt(text string) string {
	if utf8.RuneCountInString(text) <= excerptRunes {
		return text
	}
	r := []rune(text)
	return string(r[:excerptRunes])
}
