package service

import (
	"context"
	"strings"

	"traffic-fine-chatbot/llm"
	"traffic-fine-chatbot/metrics"

	"go.uber.org/zap"
)

const (
	synthesisPrompt = "Bạn là chuyên gia luật giao thông, hãy trả lời người dùng dựa trên thông tin sau:\n"

	// FallbackAnswer is returned when the model gives no usable answer
	FallbackAnswer = "Xin lỗi, tôi không thể trả lời câu hỏi này."
)

// AnswerSynthesizer turns the composed context blocks into the final answer
type AnswerSynthesizer struct {
	generator llm.Generator
	logger    *zap.Logger
}

// NewAnswerSynthesizer creates a new synthesizer
func NewAnswerSynthesizer(generator llm.Generator, logger *zap.Logger) *AnswerSynthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnswerSynthesizer{generator: generator, logger: logger}
}

// Synthesize joins blocks with blank lines and asks the model to answer as a
// traffic-law expert. Failures and empty output yield FallbackAnswer.
func (s *AnswerSynthesizer) Synthesize(ctx context.Context, blocks []string) string {
	prompt := BuildSynthesisPrompt(blocks)

	answer, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		s.logger.Warn("answer synthesis failed", zap.Error(err))
		metrics.RecordFallback("synthesize")
		return FallbackAnswer
	}

	answer = strings.TrimSpace(answer)
	if answer == "" {
		s.logger.Warn("answer synthesis returned empty text")
		metrics.RecordFallback("synthesize")
		return FallbackAnswer
	}

	return answer
}

// BuildSynthesisPrompt returns the prompt sent for blocks
func BuildSynthesisPrompt(blocks []string) string {
	return synthesisPrompt + strings.Join(blocks, "\n\n")
}
