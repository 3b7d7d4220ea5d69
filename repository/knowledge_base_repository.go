package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"traffic-fine-chatbot/models"
	"traffic-fine-chatbot/storage"
)

var (
	ErrArtifactNotFound  = errors.New("knowledge base artifact not found")
	ErrMalformedArtifact = errors.New("malformed knowledge base artifact")
)

// KnowledgeBaseRepository reads and writes the JSON knowledge base artifact
type KnowledgeBaseRepository struct {
	storage storage.Storage
}

// NewKnowledgeBaseRepository creates a new knowledge base repository
func NewKnowledgeBaseRepository(store storage.Storage) *KnowledgeBaseRepository {
	return &KnowledgeBaseRepository{storage: store}
}

// Load downloads and decodes the artifact stored under key
func (r *KnowledgeBaseRepository) Load(ctx context.Context, key string) (*models.LawRecord, error) {
	rc, err := r.storage.Download(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, key)
		}
		return nil, fmt.Errorf("failed to download artifact: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}

	record := models.NewLawRecord()
	if err := json.Unmarshal(data, record); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedArtifact, err)
	}

	return record, nil
}

// Save encodes record and replaces the artifact stored under key
func (r *KnowledgeBaseRepository) Save(ctx context.Context, key string, record *models.LawRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode artifact: %w", err)
	}

	if err := r.storage.Upload(ctx, key, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to upload artifact: %w", err)
	}

	return nil
}
