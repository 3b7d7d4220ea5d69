// Package parser turns the paragraphs of a traffic-law document into a LawRecord tree.
package parser

import (
	"fmt"
	"regexp"
	"strings"

	"traffic-fine-chatbot/models"

	"go.uber.org/zap"
)

var (
	sectionPattern = regexp.MustCompile(`^Mục\s+(\d+)`)
	articlePattern = regexp.MustCompile(`^Điều\s+(\d+)`)
	clausePattern  = regexp.MustCompile(`^(\d+)\.\s+(.+)`)
)

// StructuralError reports a marker line that appears where the document
// structure does not allow it.
type StructuralError struct {
	Line   int // 1-based
	Text   string
	Reason string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("structural error at line %d (%q): %s", e.Line, e.Text, e.Reason)
}

// Parser builds LawRecords from document lines
type Parser struct {
	logger *zap.Logger
}

// ParserOption is a functional option for Parser
type ParserOption func(*Parser)

// WithLogger sets the logger used to report dropped lines
func WithLogger(logger *zap.Logger) ParserOption {
	return func(p *Parser) {
		p.logger = logger
	}
}

// NewParser creates a new parser
func NewParser(opts ...ParserOption) *Parser {
	p := &Parser{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse builds a record using a parser with default options
func Parse(lines []string) (*models.LawRecord, error) {
	return NewParser().Parse(lines)
}

// Parse walks the lines in order, tracking the currently open section,
// article and clause. Lines are expected to be trimmed and non-empty.
func (p *Parser) Parse(lines []string) (*models.LawRecord, error) {
	record := models.NewLawRecord()

	var (
		section *models.Section
		article *models.Article
		clause  *models.Clause
		dropped int
	)

	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		switch {
		case sectionPattern.MatchString(line):
			section = record.AddSection(line)
			article = nil
			clause = nil

		case articlePattern.MatchString(line):
			if section == nil {
				return nil, &StructuralError{Line: i + 1, Text: line, Reason: "article before any section"}
			}
			article = section.AddArticle(line)
			clause = nil

		case clausePattern.MatchString(line):
			if article == nil {
				return nil, &StructuralError{Line: i + 1, Text: line, Reason: "clause outside an article"}
			}
			m := clausePattern.FindStringSubmatch(line)
			clause = article.AddClause(models.ClauseKey(m[1]), m[2])

		case clause != nil:
			clause.AddDetail(line)

		default:
			dropped++
			p.logger.Debug("dropping line outside a clause",
				zap.Int("line", i+1),
				zap.String("text", line),
			)
		}
	}

	stats := record.Stats()
	p.logger.Info("parsed law document",
		zap.Int("sections", stats.Sections),
		zap.Int("articles", stats.Articles),
		zap.Int("clauses", stats.Clauses),
		zap.Int("details", stats.Details),
		zap.Int("dropped_lines", dropped),
	)

	return record, nil
}
