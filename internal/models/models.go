// Package models defines the domain types shared by the index components.
package models

import "time"

// Project is a configured codebase. The core never creates or edits projects.
type Project struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	RootPath    string `json:"root_path"`
}

// File is the indexed metadata for one source file of a project.
type File struct {
	ID            string    `json:"id"`
	ProjectID     string    `json:"project_id"`
	Path          string    `json:"path"`
	Summary       string    `json:"summary"`
	Purpose       string    `json:"purpose"`
	ComponentName string    `json:"component_name,omitempty"`
	IsComponent   bool      `json:"is_component"`
	ContentHash   string    `json:"content_hash,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Function is a named symbol located inside a File.
type Function struct {
	ID         string `json:"id"`
	FileID     string `json:"file_id"`
	Name       string `json:"name"`
	LineNumber int    `json:"line_number"`
	Kind       string `json:"kind"`
}

// Observation is an append-only free-text note captured during a session.
// An empty ProjectID marks a global observation.
type Observation struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id,omitempty"`
	SessionID string    `json:"session_id"`
	Category  Category  `json:"category"`
	Text      string    `json:"text"`
	Files     []string  `json:"files"`
	Timestamp time.Time `json:"timestamp"`
}

// EmbeddingRecord is one stored, unit-normalised document vector.
type EmbeddingRecord struct {
	Path              string    `json:"path"`
	Vector            []float32 `json:"vector"`
	SourceTextExcerpt string    `json:"source_text_excerpt"`
	ContentHash       string    `json:"content_hash,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}
