// Package embedding keeps a per-project set of unit-normalised vectors and
// answers nearest-neighbour queries over it with a full cosine scan.
package embedding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/starford/mnemo/internal/apperr"
)

// Provider turns text into vectors. Implementations must return one vector
// per input text, in input order.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension is the vector length, or 0 when not known until the first call.
	Dimension() int
	Model() string
}

// ProviderConfig selects and configures a Provider.
type ProviderConfig struct {
	Name      string // ollama | openai | hash
	Host      string
	Model     string
	APIKey    string
	Dimension int
	Timeout   time.Duration
}

// NewProvider builds the provider named by cfg.Name.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch strings.ToLower(cfg.Name) {
	case "ollama":
		return NewOllama(cfg.Host, cfg.Model, cfg.Dimension, cfg.Timeout), nil
	case "openai":
		return NewOpenAI(cfg.APIKey, cfg.Model, cfg.Dimension), nil
	case "hash", "":
		return NewHash(cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("embedding: unknown provider %q: %w", cfg.Name, apperr.ErrValidation)
	}
}

// providerErr tags a provider failure so callers can tell "can't refresh"
// apart from "no index".
func providerErr(name string, err error) error {
	return fmt.Errorf("embedding: %s: %w: %w", name, apperr.ErrProvider, err)
}
