package internal

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/robfig/cron/v3"

	"github.com/starford/mnemo/internal/embedding"
	"github.com/starford/mnemo/internal/freshness"
	"github.com/starford/mnemo/internal/models"
	"github.com/starford/mnemo/internal/syncer"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

var projectIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Config represents the application configuration.
type Config struct {
	App        ApplicationConfig `yaml:"app"`
	SQLite     SQLiteConfig      `yaml:"sqlite"`
	Embeddings EmbeddingsConfig  `yaml:"embeddings"`
	Freshness  FreshnessConfig   `yaml:"freshness"`
	Classify   ClassifyConfig    `yaml:"classify"`
	Auth       AuthConfig        `yaml:"auth"`
	Projects   []ProjectConfig   `yaml:"projects"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Embeddings.Validate(); err != nil {
		return fmt.Errorf("embeddings: %w", err)
	}
	if err := c.Freshness.Validate(); err != nil {
		return fmt.Errorf("freshness: %w", err)
	}
	if err := c.Classify.Validate(); err != nil {
		return fmt.Errorf("classify: %w", err)
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(c.Projects))
	for i := range c.Projects {
		p := &c.Projects[i]
		if err := p.Validate(); err != nil {
			return fmt.Errorf("projects[%d]: %w", i, err)
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("projects[%d]: duplicate id %q", i, p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// SQLiteConfig holds the structured store location.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// EmbeddingsConfig selects the embedding provider and where snapshots live.
type EmbeddingsConfig struct {
	Provider    string        `yaml:"provider"`
	Host        string        `yaml:"host"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	Dimension   int           `yaml:"dimension"`
	BatchSize   int           `yaml:"batch_size"`
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`
	SnapshotDir string        `yaml:"snapshot_dir"`
}

// Validate validates the embeddings configuration.
func (c *EmbeddingsConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Provider, validation.In("", "hash", "ollama", "openai")),
		validation.Field(&c.Dimension, validation.Min(0)),
		validation.Field(&c.BatchSize, validation.Min(0)),
		validation.Field(&c.Concurrency, validation.Min(0)),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
		validation.Field(&c.SnapshotDir, validation.Required),
	); err != nil {
		return err
	}
	if c.Provider == "openai" && c.APIKey == "" {
		return fmt.Errorf("provider is %q but api_key is empty", c.Provider)
	}
	return nil
}

// ProviderConfig converts the section into provider settings.
func (c *EmbeddingsConfig) ProviderConfig() embedding.ProviderConfig {
	return embedding.ProviderConfig{
		Name:      c.Provider,
		Host:      c.Host,
		Model:     c.Model,
		APIKey:    c.APIKey,
		Dimension: c.Dimension,
		Timeout:   c.Timeout,
	}
}

// IndexOptions converts the section into embedding index options.
func (c *EmbeddingsConfig) IndexOptions() embedding.Options {
	return embedding.Options{
		BatchSize:   c.BatchSize,
		Concurrency: c.Concurrency,
		Timeout:     c.Timeout,
	}
}

// FreshnessConfig holds staleness thresholds and the refresh schedule.
type FreshnessConfig struct {
	ChangedFileThreshold int           `yaml:"changed_file_threshold"`
	EmbeddingTTL         time.Duration `yaml:"embedding_ttl"`
	Timeout              time.Duration `yaml:"timeout"`
	// Schedule is a standard five-field cron expression. Empty disables
	// periodic refresh.
	Schedule    string   `yaml:"schedule"`
	Extensions  []string `yaml:"extensions"`
	ExcludeDirs []string `yaml:"exclude_dirs"`
}

// Validate validates the freshness configuration.
func (c *FreshnessConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.ChangedFileThreshold, validation.Required, validation.Min(1)),
		validation.Field(&c.EmbeddingTTL, validation.Min(time.Duration(0))),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	); err != nil {
		return err
	}
	if c.Schedule != "" {
		if _, err := cron.ParseStandard(c.Schedule); err != nil {
			return fmt.Errorf("schedule %q: %w", c.Schedule, err)
		}
	}
	return nil
}

// Controller converts the section into controller thresholds. Empty lists
// fall back to the built-in ones.
func (c *FreshnessConfig) Controller() freshness.Config {
	out := freshness.DefaultConfig()
	out.ChangedFileThreshold = c.ChangedFileThreshold
	out.EmbeddingTTL = c.EmbeddingTTL
	out.Timeout = c.Timeout
	if len(c.Extensions) > 0 {
		out.Extensions = c.Extensions
	}
	if len(c.ExcludeDirs) > 0 {
		out.ExcludeDirs = c.ExcludeDirs
	}
	return out
}

// ClassifyConfig configures observation classification.
type ClassifyConfig struct {
	Fallback string `yaml:"fallback"`
}

// Validate validates the classify configuration.
func (c *ClassifyConfig) Validate() error {
	if c.Fallback == "" {
		return nil
	}
	if _, err := models.ParseCategory(c.Fallback); err != nil {
		return fmt.Errorf("fallback: %w", err)
	}
	return nil
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// ProjectConfig registers one codebase.
type ProjectConfig struct {
	ID          string `yaml:"id"`
	DisplayName string `yaml:"display_name"`
	RootPath    string `yaml:"root_path"`
	// SourcePath is the source-of-truth JSON. Defaults to
	// <root_path>/.mnemo/files.json.
	SourcePath string `yaml:"source_path"`
}

// Validate validates the project entry and fills defaults.
func (c *ProjectConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.ID, validation.Required, validation.Match(projectIDPattern)),
		validation.Field(&c.RootPath, validation.Required),
	); err != nil {
		return err
	}
	if c.DisplayName == "" {
		c.DisplayName = c.ID
	}
	if c.SourcePath == "" {
		c.SourcePath = filepath.Join(c.RootPath, ".mnemo", "files.json")
	}
	return nil
}

// SyncProjects converts the project list for the sync writer.
func (c *Config) SyncProjects() []syncer.Project {
	out := make([]syncer.Project, 0, len(c.Projects))
	for _, p := range c.Projects {
		out = append(out, syncer.Project{
			Project:    models.Project{ID: p.ID, DisplayName: p.DisplayName, RootPath: p.RootPath},
			SourcePath: p.SourcePath,
		})
	}
	return out
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	fresh := freshness.DefaultConfig()
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		SQLite: SQLiteConfig{
			Path: "./mnemo.db",
		},
		Embeddings: EmbeddingsConfig{
			Provider:    "hash",
			Host:        "http://localhost:11434",
			BatchSize:   32,
			Concurrency: 4,
			Timeout:     30 * time.Second,
			SnapshotDir: "./embeddings",
		},
		Freshness: FreshnessConfig{
			ChangedFileThreshold: fresh.ChangedFileThreshold,
			EmbeddingTTL:         fresh.EmbeddingTTL,
			Timeout:              fresh.Timeout,
		},
		Classify: ClassifyConfig{
			Fallback: string(models.CategoryImplementation),
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
