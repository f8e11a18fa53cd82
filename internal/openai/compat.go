package openai

import (
	"context"
	"errors"
	"fmt"

	"feedback-insights/internal/models"

	"github.com/tmc/langchaingo/embeddings"
	lcopenai "github.com/tmc/langchaingo/llms/openai"
)

// CompatEmbedder embeds text through langchaingo against any
// OpenAI-compatible host (Ollama, vLLM, LocalAI, Azure proxies).
type CompatEmbedder struct {
	embedder   embeddings.Embedder
	dimensions int
}

// NewCompatEmbedder builds an embedder for baseURL. A blank token is sent as
// "none" for hosts that do not authenticate.
func NewCompatEmbedder(baseURL, token, model string, dimensions int) (*CompatEmbedder, error) {
	if token == "" {
		token = "none"
	}

	client, err := lcopenai.New(
		lcopenai.WithBaseURL(baseURL),
		lcopenai.WithToken(token),
		lcopenai.WithEmbeddingModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create compatible client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	return &CompatEmbedder{embedder: embedder, dimensions: dimensions}, nil
}

// Embed returns the embedding of text, failing with a *models.ProviderError.
func (e *CompatEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.embedder.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, models.NewProviderError("embed", 0, err)
	}
	if len(vectors) == 0 {
		return nil, models.NewProviderError("embed", 0, errors.New("no embeddings returned"))
	}

	vector := vectors[0]
	if e.dimensions > 0 && len(vector) != e.dimensions {
		return nil, models.NewProviderError("embed", 0,
			fmt.Errorf("expected %d dimensions, got %d", e.dimensions, len(vector)))
	}

	return vector, nil
}
