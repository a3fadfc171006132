package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/pgvector/pgvector-go"
)

// OpenAIProvider generates embeddings with the OpenAI embeddings API.
type OpenAIProvider struct {
	client     openai.Client
	model      string
	dimensions int
}

// NewOpenAIProvider creates an OpenAI provider. Extra request options (base
// URL overrides in tests, proxies) are appended after the API key.
func NewOpenAIProvider(apiKey, model string, dimensions int, timeout time.Duration, opts ...option.RequestOption) *OpenAIProvider {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	base := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(timeout),
		option.WithMaxRetries(1),
	}
	return &OpenAIProvider{
		client:     openai.NewClient(append(base, opts...)...),
		model:      model,
		dimensions: dimensions,
	}
}

// Dimensions returns the embedding vector size.
func (p *OpenAIProvider) Dimensions() int {
	return p.dimensions
}

// Embed generates a single embedding.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: openai.EmbeddingModel(p.model),
	}
	if p.dimensions > 0 {
		params.Dimensions = openai.Int(int64(p.dimensions))
	}

	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return pgvector.Vector{}, fmt.Errorf("embedding: openai: %w", err)
	}
	if len(resp.Data) == 0 {
		return pgvector.Vector{}, fmt.Errorf("embedding: openai: empty response")
	}

	raw := resp.Data[0].Embedding
	if err := checkDims("openai", len(raw), p.dimensions); err != nil {
		return pgvector.Vector{}, err
	}
	vec := make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}
	return pgvector.NewVector(vec), nil
}
