package models

import "time"

// Recommendation is the sync strategy suggested by a freshness check.
type Recommendation string

const (
	RecommendNone        Recommendation = "none"
	RecommendIncremental Recommendation = "incremental"
	RecommendFull        Recommendation = "full"
)

// ChangeType is a version-control change kind.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
)

// GitDelta groups version-control changes by kind. Paths are sorted.
type GitDelta struct {
	Added    []string `json:"added"`
	Modified []string `json:"modified"`
	Deleted  []string `json:"deleted"`
}

// FreshnessSnapshot is the derived, never-persisted result of a freshness check.
type FreshnessSnapshot struct {
	ProjectID                 string         `json:"project_id"`
	CheckedAt                 time.Time      `json:"checked_at"`
	LastScanAt                *time.Time     `json:"last_scan_at"`
	LastEmbeddingsAt          *time.Time     `json:"last_embeddings_at"`
	ChangedFilesSinceLastScan []string       `json:"changed_files_since_last_scan"`
	GitDelta                  GitDelta       `json:"git_delta"`
	VCSAvailable              bool           `json:"vcs_available"`
	Recommendation            Recommendation `json:"recommendation"`
	Reasons                   []string       `json:"reasons"`
}
