package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

const defaultOllamaHost = "http://localhost:11434"

// embedRequest is the request body for Ollama's /api/embed endpoint.
type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embedResponse is the response from Ollama's /api/embed endpoint.
type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Ollama embeds text through a local Ollama server.
type Ollama struct {
	host       string
	model      string
	dim        atomic.Int64
	httpClient *http.Client
}

// NewOllama returns an Ollama provider. A zero dimension is learned from the
// first response.
func NewOllama(host, model string, dim int, timeout time.Duration) *Ollama {
	if host == "" {
		host = defaultOllamaHost
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	o := &Ollama{
		host:       strings.TrimRight(host, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
	o.dim.Store(int64(dim))
	return o
}

func (o *Ollama) Model() string  { return o.model }
func (o *Ollama) Dimension() int { return int(o.dim.Load()) }

// Embed returns the embedding vector for the given text.
func (o *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	vs, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

// EmbedBatch embeds texts in a single /api/embed call.
func (o *Ollama) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(embedRequest{Model: o.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, providerErr("ollama", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, providerErr("ollama", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, providerErr("ollama", fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, providerErr("ollama", fmt.Errorf("decode embed response: %w", err))
	}
	if len(result.Embeddings) != len(texts) {
		return nil, providerErr("ollama", fmt.Errorf("got %d embeddings for %d inputs", len(result.Embeddings), len(texts)))
	}
	for _, v := range result.Embeddings {
		if len(v) == 0 {
			return nil, providerErr("ollama", errors.New("empty embedding"))
		}
	}
	o.dim.CompareAndSwap(0, int64(len(result.Embeddings[0])))
	return result.Embeddings, nil
}

// IsHealthy checks if Ollama is reachable.
func (o *Ollama) IsHealthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
