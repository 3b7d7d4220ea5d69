package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"traffic-fine-chatbot/llm"
	"traffic-fine-chatbot/metrics"
	"traffic-fine-chatbot/models"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

const (
	defaultAnnotateWorkers   = 4
	defaultAnnotateBatchSize = llm.MaxEmbeddingBatch
)

// Annotator attaches an embedding to every detail line of a LawRecord
type Annotator struct {
	embedder  llm.Embedder
	workers   int
	batchSize int
	logger    *zap.Logger
}

// AnnotatorOption is a functional option for Annotator
type AnnotatorOption func(*Annotator)

// AnnotateWithWorkers sets the number of concurrent embedding batches
func AnnotateWithWorkers(n int) AnnotatorOption {
	return func(a *Annotator) {
		if n > 0 {
			a.workers = n
		}
	}
}

// AnnotateWithBatchSize sets how many details go into one embedding request
func AnnotateWithBatchSize(n int) AnnotatorOption {
	return func(a *Annotator) {
		if n > 0 {
			a.batchSize = n
		}
	}
}

// AnnotateWithLogger sets the logger
func AnnotateWithLogger(logger *zap.Logger) AnnotatorOption {
	return func(a *Annotator) {
		a.logger = logger
	}
}

// NewAnnotator creates a new annotator
func NewAnnotator(embedder llm.Embedder, opts ...AnnotatorOption) *Annotator {
	a := &Annotator{
		embedder:  embedder,
		workers:   defaultAnnotateWorkers,
		batchSize: defaultAnnotateBatchSize,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// EmbeddingInput is the text embedded for one detail: the detail prefixed with
// its section, article, clause key and clause content.
func EmbeddingInput(section, article, clause, content, detail string) string {
	return strings.Join([]string{section, article, clause, content, detail}, " ")
}

type detailRef struct {
	clause *models.Clause
	index  int
}

// Annotate embeds every detail of record and returns how many were embedded.
// Batches run on a worker pool; results are placed by position so the outcome
// does not depend on scheduling. On error the record is left unchanged.
func (a *Annotator) Annotate(ctx context.Context, record *models.LawRecord) (int, error) {
	var (
		inputs []string
		refs   []detailRef
	)
	record.Walk(func(s *models.Section, ar *models.Article, c *models.Clause) {
		for i, detail := range c.Details {
			inputs = append(inputs, EmbeddingInput(s.Title, ar.Title, c.Key, c.Content, detail))
			refs = append(refs, detailRef{clause: c, index: i})
		}
	})

	vectors, err := a.embedAll(ctx, inputs)
	if err != nil {
		return 0, err
	}

	record.Walk(func(_ *models.Section, _ *models.Article, c *models.Clause) {
		c.DetailEmbeddings = make([][]float32, len(c.Details))
	})
	for j, ref := range refs {
		ref.clause.DetailEmbeddings[ref.index] = vectors[j]
	}

	metrics.AddDetailsEmbedded(len(inputs))
	a.logger.Info("annotated law record", zap.Int("details", len(inputs)))
	return len(inputs), nil
}

func (a *Annotator) embedAll(parent context.Context, inputs []string) ([][]float32, error) {
	vectors := make([][]float32, len(inputs))
	if len(inputs) == 0 {
		return vectors, nil
	}

	pool, err := ants.NewPool(a.workers)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	defer pool.Release()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
		done     atomic.Int64
	)
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for start := 0; start < len(inputs); start += a.batchSize {
		if ctx.Err() != nil {
			break
		}
		start, end := start, min(start+a.batchSize, len(inputs))

		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					fail(fmt.Errorf("%w: details %d-%d: panic: %v", ErrEmbeddingFailed, start, end, r))
				}
			}()
			if ctx.Err() != nil {
				return
			}

			out, err := a.embedder.EmbedBatch(ctx, inputs[start:end])
			if err == nil && len(out) != end-start {
				err = fmt.Errorf("expected %d vectors, got %d", end-start, len(out))
			}
			if err != nil {
				fail(fmt.Errorf("%w: details %d-%d: %w", ErrEmbeddingFailed, start, end, err))
				return
			}

			copy(vectors[start:end], out)
			a.logger.Info("processed details",
				zap.Int64("done", done.Add(int64(end-start))),
				zap.Int("total", len(inputs)),
			)
		})
		if err != nil {
			wg.Done()
			fail(fmt.Errorf("failed to submit embedding batch: %w", err))
			break
		}
	}

	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := parent.Err(); err != nil {
		return nil, err
	}
	for i, vec := range vectors {
		if len(vec) == 0 {
			return nil, fmt.Errorf("%w: no embedding for detail %d", ErrEmbeddingFailed, i)
		}
	}
	return vectors, nil
}
