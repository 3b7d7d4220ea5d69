package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func isDecomposePrompt(p string) bool {
	return strings.HasPrefix(p, decomposePrompt)
}

func isSynthesisPrompt(p string) bool {
	return strings.HasPrefix(p, synthesisPrompt)
}

func newTestChatService(t *testing.T, gen *MockGenerator, emb *fakeEmbedder) *ChatService {
	t.Helper()
	kb, _ := buildKnowledgeBase(t, emb)
	return NewChatService(
		ChatWithDecomposer(NewQuestionDecomposer(gen, nil)),
		ChatWithRetriever(NewRetriever(kb, emb, nil)),
		ChatWithSynthesizer(NewAnswerSynthesizer(gen, nil)),
		ChatWithLogger(zap.NewNop()),
		ChatWithTopK(2),
		ChatWithMaxParallel(3),
	)
}

func TestChatService_KeepsSubQuestionOrder(t *testing.T) {
	emb := newFakeEmbedder(8)
	// the first sub-question finishes last
	emb.delays["Q1"] = 60 * time.Millisecond
	emb.delays["Q2"] = 30 * time.Millisecond

	gen := new(MockGenerator)
	gen.On("Generate", mock.Anything, mock.MatchedBy(isDecomposePrompt)).Return("Q1\nQ2\nQ3", nil)

	var synthesisPromptSeen string
	gen.On("Generate", mock.Anything, mock.MatchedBy(isSynthesisPrompt)).
		Run(func(args mock.Arguments) { synthesisPromptSeen = args.String(1) }).
		Return("Câu trả lời", nil)

	svc := newTestChatService(t, gen, emb)
	ctx := WithRequestID(context.Background(), "req-1")

	result, err := svc.Answer(ctx, "  Q1 Q2 Q3  ")
	require.NoError(t, err)

	assert.Equal(t, "req-1", result.RequestID)
	assert.Equal(t, "Câu trả lời", result.Answer)
	assert.Equal(t, []string{"Q1", "Q2", "Q3"}, result.SubQuestions)
	require.Len(t, result.Sources, 3)
	for _, src := range result.Sources {
		assert.Len(t, src, 2)
	}

	i1 := strings.Index(synthesisPromptSeen, "**Câu hỏi:** Q1")
	i2 := strings.Index(synthesisPromptSeen, "**Câu hỏi:** Q2")
	i3 := strings.Index(synthesisPromptSeen, "**Câu hỏi:** Q3")
	require.True(t, i1 >= 0 && i2 >= 0 && i3 >= 0)
	assert.Less(t, i1, i2)
	assert.Less(t, i2, i3)
	assert.Contains(t, synthesisPromptSeen, "\n\n**Câu hỏi:** Q2")
}

func TestChatService_EmptyQuestion(t *testing.T) {
	gen := new(MockGenerator)
	svc := newTestChatService(t, gen, newFakeEmbedder(4))

	for _, msg := range []string{"", "   ", "\n\t"} {
		_, err := svc.Answer(context.Background(), msg)
		assert.ErrorIs(t, err, ErrEmptyQuestion)
	}
	gen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestChatService_DegradesWhenModelsFail(t *testing.T) {
	emb := newFakeEmbedder(4)
	gen := new(MockGenerator)
	gen.On("Generate", mock.Anything, mock.Anything).Return("", errors.New("service unavailable"))

	svc := newTestChatService(t, gen, emb)
	emb.errs["Phạt nồng độ cồn?"] = errors.New("embedding down")

	result, err := svc.Answer(context.Background(), "Phạt nồng độ cồn?")
	require.NoError(t, err)
	assert.Equal(t, FallbackAnswer, result.Answer)
	assert.Equal(t, []string{"Phạt nồng độ cồn?"}, result.SubQuestions)
	require.Len(t, result.Sources, 1)
	assert.Empty(t, result.Sources[0])
}

func TestChatService_FallbackKeepsMessageVerbatim(t *testing.T) {
	gen := new(MockGenerator)
	gen.On("Generate", mock.Anything, mock.Anything).Return("", errors.New("service unavailable"))
	svc := newTestChatService(t, gen, newFakeEmbedder(4))

	message := "  Phạt nồng độ cồn?\n"
	result, err := svc.Answer(context.Background(), message)
	require.NoError(t, err)
	assert.Equal(t, []string{message}, result.SubQuestions)
	gen.AssertCalled(t, "Generate", mock.Anything, decomposePrompt+message)
}

func TestChatService_Cancelled(t *testing.T) {
	emb := newFakeEmbedder(4)
	emb.delays["Q1"] = time.Second

	gen := new(MockGenerator)
	gen.On("Generate", mock.Anything, mock.MatchedBy(isDecomposePrompt)).Return("Q1", nil)

	svc := newTestChatService(t, gen, emb)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := svc.Answer(ctx, "Q1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	gen.AssertNotCalled(t, "Generate", mock.Anything, mock.MatchedBy(isSynthesisPrompt))
}

func TestChatService_NotConfigured(t *testing.T) {
	_, err := NewChatService().Answer(context.Background(), "Q")
	assert.Error(t, err)
}
