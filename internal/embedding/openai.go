package embedding

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const defaultOpenAIModel = "text-embedding-3-small"

// OpenAI embeds text through the OpenAI embeddings API.
type OpenAI struct {
	client openai.Client
	model  string
	dim    int
}

// NewOpenAI returns an OpenAI provider. A positive dim asks the API for
// shortened vectors.
func NewOpenAI(apiKey, model string, dim int, opts ...option.RequestOption) *OpenAI {
	if model == "" {
		model = defaultOpenAIModel
	}
	if apiKey != "" {
		opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	}
	return &OpenAI{
		client: openai.NewClient(opts...),
		model:  model,
		dim:    dim,
	}
}

func (p *OpenAI) Model() string  { return p.model }
func (p *OpenAI) Dimension() int { return p.dim }

func (p *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	vs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

func (p *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(p.model),
	}
	if p.dim > 0 {
		params.Dimensions = openai.Int(int64(p.dim))
	}

	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, providerErr("openai", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, providerErr("openai", fmt.Errorf("got %d embeddings for %d inputs", len(resp.Data), len(texts)))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		i := int(d.Index)
		if i < 0 || i >= len(out) {
			return nil, providerErr("openai", fmt.Errorf("embedding index %d out of range", i))
		}
		out[i] = toFloat32(d.Embedding)
	}
	return out, nil
}
