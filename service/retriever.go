package service

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"traffic-fine-chatbot/llm"
	"traffic-fine-chatbot/metrics"
	"traffic-fine-chatbot/models"

	"go.uber.org/zap"
)

// DefaultTopK is the number of entries retrieved per sub-question
const DefaultTopK = 5

// Retriever ranks knowledge base entries by cosine similarity to a query
type Retriever struct {
	kb       *KnowledgeBase
	embedder llm.Embedder
	logger   *zap.Logger
}

// NewRetriever creates a retriever. embedder must be the one the knowledge base was built with.
func NewRetriever(kb *KnowledgeBase, embedder llm.Embedder, logger *zap.Logger) *Retriever {
	if kb == nil {
		kb = &KnowledgeBase{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{kb: kb, embedder: embedder, logger: logger}
}

// Retrieve embeds query and returns the min(k, n) most similar entries,
// most similar first. An empty knowledge base yields an empty result.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]models.RetrievalResult, error) {
	if k < 0 {
		return nil, ErrInvalidTopK
	}
	if k == 0 || r.kb.Len() == 0 {
		return []models.RetrievalResult{}, nil
	}

	start := time.Now()
	defer func() { metrics.RecordRetrieval(time.Since(start)) }()

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}

	return r.Search(vec, k)
}

// Search ranks entries against an already embedded query. Ties keep index
// order, so equal inputs always give equal output.
func (r *Retriever) Search(query []float32, k int) ([]models.RetrievalResult, error) {
	if k < 0 {
		return nil, ErrInvalidTopK
	}
	n := r.kb.Len()
	if k == 0 || n == 0 {
		return []models.RetrievalResult{}, nil
	}
	if len(query) != r.kb.Dimension() {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimensionMismatch, len(query), r.kb.Dimension())
	}

	type scored struct {
		index      int
		similarity float64
	}

	queryNorm := vectorNorm(query)
	scores := make([]scored, n)
	for i, e := range r.kb.entries {
		scores[i] = scored{index: i, similarity: cosine(query, e.embedding, queryNorm, e.norm)}
	}

	slices.SortFunc(scores, func(a, b scored) int {
		if c := cmp.Compare(b.similarity, a.similarity); c != 0 {
			return c
		}
		return cmp.Compare(a.index, b.index)
	})

	k = min(k, n)
	results := make([]models.RetrievalResult, k)
	for i := 0; i < k; i++ {
		results[i] = models.RetrievalResult{
			LawEntry:   r.kb.entries[scores[i].index].entry,
			Similarity: scores[i].similarity,
		}
	}

	r.logger.Debug("retrieved entries",
		zap.Int("k", k),
		zap.Float64("top_similarity", results[0].Similarity),
	)
	return results, nil
}

// CosineSimilarity returns dot(a,b)/(|a||b|). Zero-norm or mismatched
// vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	return cosine(a, b, vectorNorm(a), vectorNorm(b))
}

func cosine(a, b []float32, normA, normB float64) float64 {
	if normA == 0 || normB == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	sim := dot / (normA * normB)
	switch {
	case math.IsNaN(sim):
		return 0
	case sim > 1:
		return 1
	case sim < -1:
		return -1
	}
	return sim
}
