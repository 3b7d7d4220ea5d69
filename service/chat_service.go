package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"traffic-fine-chatbot/metrics"
	"traffic-fine-chatbot/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultMaxParallel = 4

// ChatService answers a user message: decompose, retrieve and compose per
// sub-question in parallel, then synthesize.
type ChatService struct {
	decomposer  *QuestionDecomposer
	retriever   *Retriever
	synthesizer *AnswerSynthesizer
	logger      *zap.Logger
	topK        int
	maxParallel int
}

// ChatServiceOption is a functional option for ChatService
type ChatServiceOption func(*ChatService)

// ChatWithDecomposer sets the question decomposer
func ChatWithDecomposer(d *QuestionDecomposer) ChatServiceOption {
	return func(s *ChatService) {
		s.decomposer = d
	}
}

// ChatWithRetriever sets the similarity retriever
func ChatWithRetriever(r *Retriever) ChatServiceOption {
	return func(s *ChatService) {
		s.retriever = r
	}
}

// ChatWithSynthesizer sets the answer synthesizer
func ChatWithSynthesizer(a *AnswerSynthesizer) ChatServiceOption {
	return func(s *ChatService) {
		s.synthesizer = a
	}
}

// ChatWithLogger sets the logger
func ChatWithLogger(logger *zap.Logger) ChatServiceOption {
	return func(s *ChatService) {
		s.logger = logger
	}
}

// ChatWithTopK sets how many entries are retrieved per sub-question
func ChatWithTopK(k int) ChatServiceOption {
	return func(s *ChatService) {
		if k >= 0 {
			s.topK = k
		}
	}
}

// ChatWithMaxParallel bounds concurrent sub-question retrievals
func ChatWithMaxParallel(n int) ChatServiceOption {
	return func(s *ChatService) {
		if n > 0 {
			s.maxParallel = n
		}
	}
}

// NewChatService creates a new chat service
func NewChatService(opts ...ChatServiceOption) *ChatService {
	s := &ChatService{
		logger:      zap.NewNop(),
		topK:        DefaultTopK,
		maxParallel: defaultMaxParallel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ChatResult is the answer to one user message
type ChatResult struct {
	RequestID    string
	Answer       string
	SubQuestions []string
	Sources      [][]models.RetrievalResult // parallel to SubQuestions
}

// Answer runs the whole pipeline for message. Only an empty message or a
// cancelled ctx produce an error; model failures degrade to fallbacks.
func (s *ChatService) Answer(ctx context.Context, message string) (*ChatResult, error) {
	if s.decomposer == nil || s.retriever == nil || s.synthesizer == nil {
		return nil, errors.New("chat service is not fully configured")
	}

	if strings.TrimSpace(message) == "" {
		return nil, ErrEmptyQuestion
	}

	start := time.Now()
	requestID := RequestIDFromContext(ctx)
	logger := s.logger.With(zap.String("request_id", requestID))

	questions := s.decomposer.Decompose(ctx, message)
	if err := ctx.Err(); err != nil {
		metrics.RecordChat(metrics.StatusError, time.Since(start), 0)
		return nil, err
	}

	blocks, sources, err := s.retrieveAll(ctx, logger, questions)
	if err != nil {
		metrics.RecordChat(metrics.StatusError, time.Since(start), len(questions))
		return nil, err
	}

	answer := s.synthesizer.Synthesize(ctx, blocks)
	if err := ctx.Err(); err != nil {
		metrics.RecordChat(metrics.StatusError, time.Since(start), len(questions))
		return nil, err
	}

	metrics.RecordChat(metrics.StatusSuccess, time.Since(start), len(questions))
	logger.Info("answered question",
		zap.Int("sub_questions", len(questions)),
		zap.Duration("duration", time.Since(start)),
	)

	return &ChatResult{
		RequestID:    requestID,
		Answer:       answer,
		SubQuestions: questions,
		Sources:      sources,
	}, nil
}

// retrieveAll retrieves and composes every sub-question concurrently and
// returns the blocks in sub-question order. A failed retrieval only empties
// that sub-question's context.
func (s *ChatService) retrieveAll(ctx context.Context, logger *zap.Logger, questions []string) ([]string, [][]models.RetrievalResult, error) {
	blocks := make([]string, len(questions))
	sources := make([][]models.RetrievalResult, len(questions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxParallel)

	for i, question := range questions {
		g.Go(func() error {
			results, err := s.retriever.Retrieve(gctx, question, s.topK)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				logger.Warn("retrieval failed, continuing with empty context",
					zap.Int("sub_question", i),
					zap.Error(err),
				)
				metrics.RecordFallback("retrieve")
				results = []models.RetrievalResult{}
			}
			sources[i] = results
			blocks[i] = ComposeContext(question, results)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return blocks, sources, nil
}

type requestIDKey struct{}

// WithRequestID stores a request ID in ctx
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request ID in ctx, or a new one
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}
