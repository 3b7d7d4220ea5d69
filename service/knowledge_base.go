package service

import (
	"context"
	"errors"
	"fmt"
	"math"

	"traffic-fine-chatbot/metrics"
	"traffic-fine-chatbot/models"
	"traffic-fine-chatbot/repository"

	"go.uber.org/zap"
)

// ArtifactStore loads and saves the annotated law record
type ArtifactStore interface {
	Load(ctx context.Context, key string) (*models.LawRecord, error)
	Save(ctx context.Context, key string, record *models.LawRecord) error
}

type indexedEntry struct {
	entry     models.LawEntry
	embedding []float32
	norm      float64
}

// KnowledgeBase is the flattened, read-only search index. Each entry owns its
// embedding, so entries and vectors cannot drift apart.
type KnowledgeBase struct {
	entries   []indexedEntry
	dimension int
}

// NewKnowledgeBase flattens an annotated record in Section, Article, Clause,
// detail order. It fails with a *DataError when a clause is not fully annotated
// or vectors disagree on dimension.
func NewKnowledgeBase(record *models.LawRecord) (*KnowledgeBase, error) {
	kb := &KnowledgeBase{}
	if record == nil {
		return kb, nil
	}

	var buildErr error
	record.Walk(func(s *models.Section, a *models.Article, c *models.Clause) {
		if buildErr != nil {
			return
		}
		path := []string{s.Title, a.Title, c.Key}

		if c.DetailEmbeddings == nil && len(c.Details) > 0 {
			buildErr = &DataError{Path: path, Reason: "missing detail embeddings"}
			return
		}
		if len(c.DetailEmbeddings) != len(c.Details) {
			buildErr = &DataError{
				Path:   path,
				Reason: fmt.Sprintf("%d details but %d embeddings", len(c.Details), len(c.DetailEmbeddings)),
			}
			return
		}

		for i, detail := range c.Details {
			vec := c.DetailEmbeddings[i]
			if len(vec) == 0 {
				buildErr = &DataError{Path: path, Reason: fmt.Sprintf("empty embedding for detail %d", i)}
				return
			}
			if kb.dimension == 0 {
				kb.dimension = len(vec)
			} else if len(vec) != kb.dimension {
				buildErr = &DataError{
					Path:   path,
					Reason: fmt.Sprintf("embedding %d has dimension %d, expected %d", i, len(vec), kb.dimension),
				}
				return
			}

			owned := make([]float32, len(vec))
			copy(owned, vec)
			kb.entries = append(kb.entries, indexedEntry{
				entry: models.LawEntry{
					Section: s.Title,
					Article: a.Title,
					Clause:  c.Key,
					Content: c.Content,
					Detail:  detail,
				},
				embedding: owned,
				norm:      vectorNorm(owned),
			})
		}
	})
	if buildErr != nil {
		return nil, buildErr
	}

	return kb, nil
}

// Len returns the number of entries
func (kb *KnowledgeBase) Len() int {
	return len(kb.entries)
}

// Dimension returns the embedding dimension, 0 for an empty knowledge base
func (kb *KnowledgeBase) Dimension() int {
	return kb.dimension
}

// Entry returns entry i and a copy of its embedding
func (kb *KnowledgeBase) Entry(i int) (models.LawEntry, []float32) {
	e := kb.entries[i]
	vec := make([]float32, len(e.embedding))
	copy(vec, e.embedding)
	return e.entry, vec
}

// Entries returns all entries in index order
func (kb *KnowledgeBase) Entries() []models.LawEntry {
	out := make([]models.LawEntry, len(kb.entries))
	for i, e := range kb.entries {
		out[i] = e.entry
	}
	return out
}

// KnowledgeBaseLoader builds the knowledge base from the stored artifact
type KnowledgeBaseLoader struct {
	store  ArtifactStore
	logger *zap.Logger
}

// NewKnowledgeBaseLoader creates a new loader
func NewKnowledgeBaseLoader(store ArtifactStore, logger *zap.Logger) *KnowledgeBaseLoader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KnowledgeBaseLoader{store: store, logger: logger}
}

// Load reads the artifact under key and flattens it. Malformed artifacts
// surface as *DataError.
func (l *KnowledgeBaseLoader) Load(ctx context.Context, key string) (*KnowledgeBase, error) {
	record, err := l.store.Load(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrMalformedArtifact) {
			return nil, &DataError{Reason: "malformed artifact " + key, Err: err}
		}
		return nil, err
	}

	kb, err := NewKnowledgeBase(record)
	if err != nil {
		return nil, err
	}

	stats := record.Stats()
	l.logger.Info("knowledge base loaded",
		zap.String("artifact", key),
		zap.Int("sections", stats.Sections),
		zap.Int("articles", stats.Articles),
		zap.Int("clauses", stats.Clauses),
		zap.Int("entries", kb.Len()),
		zap.Int("dimension", kb.Dimension()),
	)
	metrics.SetKnowledgeBaseSize(kb.Len())

	return kb, nil
}

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
