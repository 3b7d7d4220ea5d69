package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"traffic-fine-chatbot/models"
	"traffic-fine-chatbot/parser"
	"traffic-fine-chatbot/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// IngestService builds the knowledge base artifact from a law document
type IngestService struct {
	storage   storage.Storage
	artifacts ArtifactStore
	parser    *parser.Parser
	annotator *Annotator
	logger    *zap.Logger
}

// IngestServiceOption is a functional option for IngestService
type IngestServiceOption func(*IngestService)

// IngestWithStorage sets where source documents are read from
func IngestWithStorage(store storage.Storage) IngestServiceOption {
	return func(s *IngestService) {
		s.storage = store
	}
}

// IngestWithArtifactStore sets where the artifact is written
func IngestWithArtifactStore(store ArtifactStore) IngestServiceOption {
	return func(s *IngestService) {
		s.artifacts = store
	}
}

// IngestWithAnnotator sets the embedding annotator
func IngestWithAnnotator(a *Annotator) IngestServiceOption {
	return func(s *IngestService) {
		s.annotator = a
	}
}

// IngestWithParser sets the document parser
func IngestWithParser(p *parser.Parser) IngestServiceOption {
	return func(s *IngestService) {
		s.parser = p
	}
}

// IngestWithLogger sets the logger
func IngestWithLogger(logger *zap.Logger) IngestServiceOption {
	return func(s *IngestService) {
		s.logger = logger
	}
}

// NewIngestService creates a new ingest service
func NewIngestService(opts ...IngestServiceOption) *IngestService {
	s := &IngestService{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	if s.parser == nil {
		s.parser = parser.NewParser(parser.WithLogger(s.logger))
	}
	return s
}

// IngestRequest names the source document and the artifact to write
type IngestRequest struct {
	InputKey  string
	OutputKey string
}

// IngestReport summarizes one ingestion run
type IngestReport struct {
	RunID    uuid.UUID
	Stats    models.RecordStats
	Embedded int
	Duration time.Duration
}

// Ingest reads, parses, annotates and stores the document. A structural
// problem in the document aborts before any embedding call, and nothing is
// written unless every step succeeds.
func (s *IngestService) Ingest(ctx context.Context, req IngestRequest) (*IngestReport, error) {
	if s.storage == nil || s.artifacts == nil || s.annotator == nil {
		return nil, errors.New("ingest service is not fully configured")
	}

	start := time.Now()
	runID := uuid.New()
	logger := s.logger.With(zap.String("run_id", runID.String()))

	rc, err := s.storage.Download(ctx, req.InputKey)
	if err != nil {
		return nil, fmt.Errorf("failed to open document: %w", err)
	}
	lines, err := parser.ReadLines(rc, req.InputKey)
	rc.Close()
	if err != nil {
		return nil, err
	}
	logger.Info("read law document", zap.String("input", req.InputKey), zap.Int("lines", len(lines)))

	record, err := s.parser.Parse(lines)
	if err != nil {
		return nil, err
	}

	embedded, err := s.annotator.Annotate(ctx, record)
	if err != nil {
		return nil, err
	}

	if err := s.artifacts.Save(ctx, req.OutputKey, record); err != nil {
		return nil, err
	}

	report := &IngestReport{
		RunID:    runID,
		Stats:    record.Stats(),
		Embedded: embedded,
		Duration: time.Since(start),
	}
	logger.Info("knowledge base artifact written",
		zap.String("output", req.OutputKey),
		zap.Int("sections", report.Stats.Sections),
		zap.Int("articles", report.Stats.Articles),
		zap.Int("clauses", report.Stats.Clauses),
		zap.Int("details", report.Stats.Details),
		zap.Duration("duration", report.Duration),
	)

	return report, nil
}
