package service

import (
	"context"
	"errors"
	"testing"

	"traffic-fine-chatbot/models"
	"traffic-fine-chatbot/parser"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddingInput(t *testing.T) {
	assert.Equal(t, "Muc 1 Dieu 2 Khoan_3 C D", EmbeddingInput("Muc 1", "Dieu 2", "Khoan_3", "C", "D"))
}

func TestAnnotator_AttachesOneEmbeddingPerDetail(t *testing.T) {
	record, err := parser.Parse(testLawLines)
	require.NoError(t, err)

	emb := newFakeEmbedder(6)
	n, err := NewAnnotator(emb, AnnotateWithBatchSize(2), AnnotateWithWorkers(4)).Annotate(context.Background(), record)
	require.NoError(t, err)
	assert.Equal(t, record.Stats().Details, n)

	record.Walk(func(s *models.Section, a *models.Article, c *models.Clause) {
		require.Len(t, c.DetailEmbeddings, len(c.Details))
		for i, detail := range c.Details {
			want := hashVector(EmbeddingInput(s.Title, a.Title, c.Key, c.Content, detail), 6)
			assert.Equal(t, want, c.DetailEmbeddings[i])
		}
	})

	for _, batch := range emb.batches {
		assert.LessOrEqual(t, len(batch), 2)
	}
}

func TestAnnotator_ResultIndependentOfScheduling(t *testing.T) {
	annotate := func(workers, batch int) *models.LawRecord {
		record, err := parser.Parse(testLawLines)
		require.NoError(t, err)
		_, err = NewAnnotator(newFakeEmbedder(4),
			AnnotateWithWorkers(workers),
			AnnotateWithBatchSize(batch),
		).Annotate(context.Background(), record)
		require.NoError(t, err)
		return record
	}

	assert.Equal(t, annotate(1, 100), annotate(8, 1))
}

func TestAnnotator_EmptyClausesBecomeAnnotated(t *testing.T) {
	record, err := parser.Parse([]string{"Mục 1", "Điều 1", "1. Không có chi tiết"})
	require.NoError(t, err)

	emb := newFakeEmbedder(4)
	n, err := NewAnnotator(emb).Annotate(context.Background(), record)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, emb.callCount())

	clause := record.Sections[0].Articles[0].Clauses[0]
	assert.NotNil(t, clause.DetailEmbeddings)
	assert.True(t, clause.Annotated())
}

func TestAnnotator_ErrorLeavesRecordUnchanged(t *testing.T) {
	record, err := parser.Parse(testLawLines)
	require.NoError(t, err)

	first := record.Sections[0].Articles[0].Clauses[0]
	emb := newFakeEmbedder(4)
	emb.errs[EmbeddingInput(record.Sections[0].Title, record.Sections[0].Articles[0].Title,
		first.Key, first.Content, first.Details[0])] = errors.New("rate limited")

	_, err = NewAnnotator(emb, AnnotateWithBatchSize(1), AnnotateWithWorkers(2)).Annotate(context.Background(), record)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmbeddingFailed)

	record.Walk(func(_ *models.Section, _ *models.Article, c *models.Clause) {
		assert.Nil(t, c.DetailEmbeddings)
	})
}

// panickingEmbedder panics on every batch.
type panickingEmbedder struct{}

func (panickingEmbedder) Embed(context.Context, string) ([]float32, error) {
	panic("embedding client crashed")
}

func (panickingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	panic("embedding client crashed")
}

// blankEmbedder returns the right number of vectors, all empty.
type blankEmbedder struct{}

func (blankEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, nil
}

func (blankEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	return make([][]float32, len(texts)), nil
}

func TestAnnotator_PanicInEmbedderFails(t *testing.T) {
	record, err := parser.Parse(testLawLines)
	require.NoError(t, err)

	n, err := NewAnnotator(panickingEmbedder{}, AnnotateWithBatchSize(2), AnnotateWithWorkers(2)).
		Annotate(context.Background(), record)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.Contains(t, err.Error(), "embedding client crashed")
	assert.Zero(t, n)

	record.Walk(func(_ *models.Section, _ *models.Article, c *models.Clause) {
		assert.Nil(t, c.DetailEmbeddings)
	})
}

func TestAnnotator_EmptyVectorsFail(t *testing.T) {
	record, err := parser.Parse(testLawLines)
	require.NoError(t, err)

	_, err = NewAnnotator(blankEmbedder{}).Annotate(context.Background(), record)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmbeddingFailed)

	record.Walk(func(_ *models.Section, _ *models.Article, c *models.Clause) {
		assert.Nil(t, c.DetailEmbeddings)
	})
}

func TestAnnotator_CancelledContext(t *testing.T) {
	record, err := parser.Parse(testLawLines)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = NewAnnotator(newFakeEmbedder(4)).Annotate(ctx, record)
	assert.ErrorIs(t, err, context.Canceled)
}
