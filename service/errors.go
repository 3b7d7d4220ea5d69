package service

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyQuestion     = errors.New("question is empty")
	ErrInvalidTopK       = errors.New("top k must not be negative")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrEmbeddingFailed   = errors.New("failed to generate embedding")
)

// DataError reports a knowledge base artifact that cannot be served
type DataError struct {
	Path   []string // section, article, clause of the offending node when known
	Reason string
	Err    error
}

func (e *DataError) Error() string {
	var b strings.Builder
	b.WriteString("invalid knowledge base")
	if len(e.Path) > 0 {
		fmt.Fprintf(&b, " at %s", strings.Join(e.Path, " / "))
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *DataError) Unwrap() error {
	return e.Err
}
