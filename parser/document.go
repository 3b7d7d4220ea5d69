package parser

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/fumiama/go-docx"
)

const maxLineLength = 1024 * 1024

var (
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrMissingDocument   = errors.New("docx has no body paragraphs")
)

// ReadLines returns the non-empty trimmed paragraphs of a document.
// The format is chosen from the extension of name: .docx, .txt or .md.
func ReadLines(r io.Reader, name string) ([]string, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".docx":
		return readDocx(r)
	case ".txt", ".md":
		return readText(r)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
	}
}

func readText(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineLength)

	var lines []string
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if first {
			line = strings.TrimPrefix(line, "\ufeff")
			first = false
		}
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read text document: %w", err)
	}
	return lines, nil
}

// readDocx returns the text of the top-level body paragraphs. Tables,
// drawings and text boxes are skipped.
func readDocx(r io.Reader) ([]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read docx: %w", err)
	}

	doc, err := docx.Parse(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse docx: %w", err)
	}

	var lines []string
	for _, item := range doc.Document.Body.Items {
		p, ok := item.(*docx.Paragraph)
		if !ok {
			continue
		}
		if line := strings.TrimSpace(paragraphText(p)); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return nil, ErrMissingDocument
	}
	return lines, nil
}

func paragraphText(p *docx.Paragraph) string {
	var sb strings.Builder
	for _, child := range p.Children {
		switch c := child.(type) {
		case *docx.Run:
			writeRun(&sb, c)
		case *docx.Hyperlink:
			writeRun(&sb, &c.Run)
		}
	}
	return sb.String()
}

// writeRun appends the run's text. Drawings, including anchored text
// boxes, contribute nothing.
func writeRun(sb *strings.Builder, r *docx.Run) {
	for _, child := range r.Children {
		switch c := child.(type) {
		case *docx.Text:
			sb.WriteString(c.Text)
		case *docx.Tab:
			sb.WriteByte('\t')
		case *docx.BarterRabbet:
			sb.WriteByte('\n')
		}
	}
}
