// Package llm adapts the Gemini model provider to the embedding and text
// generation contracts used by the chatbot, and layers retries and caching on top.
package llm

import (
	"context"
	"errors"
)

// Embedder turns text into a fixed-dimension vector. The same text and model
// always yield the same vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator completes a prompt. It may return empty text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

var (
	ErrEmbeddingFailed  = errors.New("failed to generate embedding")
	ErrGenerationFailed = errors.New("failed to generate content")
	ErrBlockedPrompt    = errors.New("prompt blocked by provider")
	ErrEmptyResponse    = errors.New("provider returned empty content")
)

// Operation labels for logs and metrics
const (
	OperationEmbed      = "embed"
	OperationEmbedBatch = "embed_batch"
	OperationGenerate   = "generate"
)
