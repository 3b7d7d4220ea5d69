package service

import (
	"context"
	"strings"
	"testing"

	"traffic-fine-chatbot/models"
	"traffic-fine-chatbot/repository"
	"traffic-fine-chatbot/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKnowledgeBase_FlattensInDocumentOrder(t *testing.T) {
	emb := newFakeEmbedder(8)
	kb, record := buildKnowledgeBase(t, emb)

	require.Equal(t, record.Stats().Details, kb.Len())
	assert.Equal(t, 8, kb.Dimension())

	i := 0
	record.Walk(func(s *models.Section, a *models.Article, c *models.Clause) {
		for j, detail := range c.Details {
			entry, vec := kb.Entry(i)
			assert.Equal(t, models.LawEntry{
				Section: s.Title,
				Article: a.Title,
				Clause:  c.Key,
				Content: c.Content,
				Detail:  detail,
			}, entry)
			assert.Equal(t, c.DetailEmbeddings[j], vec)
			i++
		}
	})
	assert.Equal(t, kb.Len(), i)

	first := kb.Entries()[0]
	assert.Equal(t, "Khoan_1", first.Clause)
	assert.Equal(t, "a) Không chấp hành hiệu lệnh của biển báo hiệu;", first.Detail)
}

func TestNewKnowledgeBase_OwnsItsVectors(t *testing.T) {
	record := models.NewLawRecord()
	c := record.AddSection("Mục 1").AddArticle("Điều 1").AddClause("Khoan_1", "x")
	c.AddDetail("d")
	c.DetailEmbeddings = [][]float32{{1, 2}}

	kb, err := NewKnowledgeBase(record)
	require.NoError(t, err)

	c.DetailEmbeddings[0][0] = 99
	_, vec := kb.Entry(0)
	assert.Equal(t, []float32{1, 2}, vec)
}

func TestNewKnowledgeBase_DataErrors(t *testing.T) {
	tests := []struct {
		name   string
		build  func(c *models.Clause)
		reason string
	}{
		{
			name: "missing embeddings",
			build: func(c *models.Clause) {
				c.AddDetail("a")
			},
			reason: "missing detail embeddings",
		},
		{
			name: "count mismatch",
			build: func(c *models.Clause) {
				c.AddDetail("a")
				c.AddDetail("b")
				c.DetailEmbeddings = [][]float32{{1, 0}}
			},
			reason: "2 details but 1 embeddings",
		},
		{
			name: "extra embeddings without details",
			build: func(c *models.Clause) {
				c.DetailEmbeddings = [][]float32{{1, 0}}
			},
			reason: "0 details but 1 embeddings",
		},
		{
			name: "dimension mismatch",
			build: func(c *models.Clause) {
				c.AddDetail("a")
				c.AddDetail("b")
				c.DetailEmbeddings = [][]float32{{1, 0}, {1, 0, 0}}
			},
			reason: "dimension 3, expected 2",
		},
		{
			name: "empty vector",
			build: func(c *models.Clause) {
				c.AddDetail("a")
				c.DetailEmbeddings = [][]float32{{}}
			},
			reason: "empty embedding",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := models.NewLawRecord()
			clause := record.AddSection("Mục 1").AddArticle("Điều 1").AddClause("Khoan_1", "x")
			tt.build(clause)

			kb, err := NewKnowledgeBase(record)
			assert.Nil(t, kb)

			var dataErr *DataError
			require.ErrorAs(t, err, &dataErr)
			assert.Contains(t, dataErr.Reason, tt.reason)
			assert.Equal(t, []string{"Mục 1", "Điều 1", "Khoan_1"}, dataErr.Path)
		})
	}
}

func TestNewKnowledgeBase_UnannotatedEmptyClauseIsFine(t *testing.T) {
	record := models.NewLawRecord()
	record.AddSection("Mục 1").AddArticle("Điều 1").AddClause("Khoan_1", "không có chi tiết")

	kb, err := NewKnowledgeBase(record)
	require.NoError(t, err)
	assert.Zero(t, kb.Len())
	assert.Zero(t, kb.Dimension())
}

func TestKnowledgeBaseLoader_Load(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	repo := repository.NewKnowledgeBaseRepository(store)

	_, record := buildKnowledgeBase(t, newFakeEmbedder(4))
	require.NoError(t, repo.Save(ctx, "law_data_processed.json", record))

	loader := NewKnowledgeBaseLoader(repo, nil)
	kb, err := loader.Load(ctx, "law_data_processed.json")
	require.NoError(t, err)
	assert.Equal(t, record.Stats().Details, kb.Len())
	assert.Equal(t, 4, kb.Dimension())
}

func TestKnowledgeBaseLoader_LoadErrors(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	loader := NewKnowledgeBaseLoader(repository.NewKnowledgeBaseRepository(store), nil)

	_, err = loader.Load(ctx, "missing.json")
	assert.ErrorIs(t, err, repository.ErrArtifactNotFound)

	var dataErr *DataError

	require.NoError(t, store.Upload(ctx, "no_content.json",
		strings.NewReader(`{"Mục 1":{"Điều 1":{"Khoan_1":{"ChiTiet":["a"],"Embedding_ChiTiet":[[1]]}}}}`)))
	_, err = loader.Load(ctx, "no_content.json")
	require.ErrorAs(t, err, &dataErr)
	assert.ErrorIs(t, err, models.ErrMissingContent)

	require.NoError(t, store.Upload(ctx, "mismatch.json",
		strings.NewReader(`{"Mục 1":{"Điều 1":{"Khoan_1":{"NoiDung":"x","ChiTiet":["a","b"],"Embedding_ChiTiet":[[1]]}}}}`)))
	_, err = loader.Load(ctx, "mismatch.json")
	require.ErrorAs(t, err, &dataErr)
	assert.Contains(t, err.Error(), "2 details but 1 embeddings")
}
