package gemini

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// EmbeddingDim is fixed by the store schema; vectors of any other size are
// rejected before they reach the index.
const EmbeddingDim = 768

type Embedder struct {
	client *genai.Client
	model  string
}

func NewEmbedder(ctx context.Context, apiKey string) (*Embedder, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return &Embedder{client: client, model: "text-embedding-004"}, nil
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	slog.DebugContext(ctx, "embedding content", "model", e.model, "length", len(text))
	em := e.client.EmbeddingModel(e.model)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		slog.ErrorContext(ctx, "embedding failed", "error", err)
		return nil, err
	}
	if res.Embedding == nil {
		return nil, fmt.Errorf("empty embedding response")
	}
	if len(res.Embedding.Values) != EmbeddingDim {
		return nil, fmt.Errorf("unexpected embedding size %d, want %d", len(res.Embedding.Values), EmbeddingDim)
	}
	return res.Embedding.Values, nil
}
