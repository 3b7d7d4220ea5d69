package service

import (
	"context"
	"strings"

	"traffic-fine-chatbot/llm"
	"traffic-fine-chatbot/metrics"

	"go.uber.org/zap"
)

const decomposePrompt = "Hãy tách đoạn văn bản sau thành các câu hỏi riêng biệt, chỉ trả về danh sách câu hỏi, không thêm giải thích: \n"

// QuestionDecomposer splits a user message into independent sub-questions
type QuestionDecomposer struct {
	generator llm.Generator
	logger    *zap.Logger
}

// NewQuestionDecomposer creates a new decomposer
func NewQuestionDecomposer(generator llm.Generator, logger *zap.Logger) *QuestionDecomposer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QuestionDecomposer{generator: generator, logger: logger}
}

// Decompose asks the model for one question per line. It never fails: when the
// model errors or returns nothing usable, the utterance itself is the only question.
func (d *QuestionDecomposer) Decompose(ctx context.Context, utterance string) []string {
	response, err := d.generator.Generate(ctx, decomposePrompt+utterance)
	if err != nil {
		d.logger.Warn("question decomposition failed, using original question", zap.Error(err))
		metrics.RecordFallback("decompose")
		return []string{utterance}
	}

	questions := splitQuestions(response)
	if len(questions) == 0 {
		d.logger.Warn("question decomposition returned no questions, using original question")
		metrics.RecordFallback("decompose")
		return []string{utterance}
	}

	d.logger.Debug("decomposed question", zap.Int("sub_questions", len(questions)))
	return questions
}

func splitQuestions(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
