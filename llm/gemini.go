package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
)

const (
	DefaultChatModel      = "gemini-1.5-pro"
	DefaultEmbeddingModel = "text-embedding-004"
	DefaultTemperature    = 0.3

	// Gemini accepts at most 100 requests per batchEmbedContents call
	MaxEmbeddingBatch = 100
)

// GeminiEmbedder embeds text with a Gemini embedding model. Documents and
// queries use the same task type so identical text maps to identical vectors.
type GeminiEmbedder struct {
	model     *genai.EmbeddingModel
	modelName string
	logger    *zap.Logger
}

// NewGeminiEmbedder creates an embedder for modelName (DefaultEmbeddingModel when empty)
func NewGeminiEmbedder(client *genai.Client, modelName string, logger *zap.Logger) *GeminiEmbedder {
	if modelName == "" {
		modelName = DefaultEmbeddingModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	model := client.EmbeddingModel(modelName)
	model.TaskType = genai.TaskTypeSemanticSimilarity

	return &GeminiEmbedder{
		model:     model,
		modelName: modelName,
		logger:    logger,
	}
}

// Embed embeds a single text
func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	res, err := e.model.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	if res == nil || res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, ErrEmptyResponse)
	}
	return res.Embedding.Values, nil
}

// EmbedBatch embeds texts in provider-sized chunks, keeping input order
func (e *GeminiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))

	for start := 0; start < len(texts); start += MaxEmbeddingBatch {
		end := min(start+MaxEmbeddingBatch, len(texts))

		batch := e.model.NewBatch()
		for _, text := range texts[start:end] {
			batch.AddContent(genai.Text(text))
		}

		res, err := e.model.BatchEmbedContents(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("%w: batch %d-%d: %w", ErrEmbeddingFailed, start, end, err)
		}
		if res == nil || len(res.Embeddings) != end-start {
			got := 0
			if res != nil {
				got = len(res.Embeddings)
			}
			return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrEmbeddingFailed, end-start, got)
		}

		for i, emb := range res.Embeddings {
			if emb == nil || len(emb.Values) == 0 {
				return nil, fmt.Errorf("%w: empty embedding at index %d", ErrEmbeddingFailed, start+i)
			}
			out = append(out, emb.Values)
		}

		e.logger.Debug("embedded batch",
			zap.String("model", e.modelName),
			zap.Int("start", start),
			zap.Int("size", end-start),
		)
	}

	return out, nil
}

// GeminiGenerator completes prompts with a Gemini generative model
type GeminiGenerator struct {
	model     *genai.GenerativeModel
	modelName string
	logger    *zap.Logger
}

// NewGeminiGenerator creates a generator for modelName (DefaultChatModel when empty)
func NewGeminiGenerator(client *genai.Client, modelName string, temperature float32, logger *zap.Logger) *GeminiGenerator {
	if modelName == "" {
		modelName = DefaultChatModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(temperature)

	return &GeminiGenerator{
		model:     model,
		modelName: modelName,
		logger:    logger,
	}
}

// Generate sends prompt as a single user turn and returns the concatenated text parts
func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		var blocked *genai.BlockedError
		if errors.As(err, &blocked) {
			return "", fmt.Errorf("%w: %v", ErrBlockedPrompt, blocked)
		}
		return "", fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	return responseText(resp, g.logger)
}

func responseText(resp *genai.GenerateContentResponse, logger *zap.Logger) (string, error) {
	if resp == nil {
		return "", ErrEmptyResponse
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
		return "", fmt.Errorf("%w: %s", ErrBlockedPrompt, resp.PromptFeedback.BlockReason)
	}

	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates", ErrEmptyResponse)
	}

	var text strings.Builder
	for i, candidate := range resp.Candidates {
		if candidate.FinishReason != genai.FinishReasonUnspecified && candidate.FinishReason != genai.FinishReasonStop {
			logger.Warn("candidate finished early",
				zap.Int("candidate", i),
				zap.String("finish_reason", candidate.FinishReason.String()),
			)
		}
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text.WriteString(string(t))
			}
		}
	}

	if strings.TrimSpace(text.String()) == "" {
		return "", ErrEmptyResponse
	}
	return text.String(), nil
}
