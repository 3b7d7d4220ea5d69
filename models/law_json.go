package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// JSON field names of a clause body in the knowledge base artifact
const (
	fieldContent    = "NoiDung"
	fieldDetails    = "ChiTiet"
	fieldEmbeddings = "Embedding_ChiTiet"
)

var (
	ErrMissingContent = errors.New("clause body missing " + fieldContent)
	ErrMissingDetails = errors.New("clause body missing " + fieldDetails)
)

type clauseBodyOut struct {
	NoiDung          string      `json:"NoiDung"`
	ChiTiet          []string    `json:"ChiTiet"`
	EmbeddingChiTiet [][]float32 `json:"Embedding_ChiTiet,omitempty"`
}

type clauseBodyIn struct {
	NoiDung          *string      `json:"NoiDung"`
	ChiTiet          *[]string    `json:"ChiTiet"`
	EmbeddingChiTiet *[][]float32 `json:"Embedding_ChiTiet"`
}

// MarshalJSON writes the record as nested objects keyed by section, article and clause,
// keeping document order.
func (r *LawRecord) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, s := range r.Sections {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeKey(&buf, s.Title); err != nil {
			return nil, err
		}
		buf.WriteByte('{')
		for j, a := range s.Articles {
			if j > 0 {
				buf.WriteByte(',')
			}
			if err := writeKey(&buf, a.Title); err != nil {
				return nil, err
			}
			buf.WriteByte('{')
			for k, c := range a.Clauses {
				if k > 0 {
					buf.WriteByte(',')
				}
				if err := writeKey(&buf, c.Key); err != nil {
					return nil, err
				}
				details := c.Details
				if details == nil {
					details = []string{}
				}
				body, err := json.Marshal(clauseBodyOut{
					NoiDung:          c.Content,
					ChiTiet:          details,
					EmbeddingChiTiet: c.DetailEmbeddings,
				})
				if err != nil {
					return nil, fmt.Errorf("failed to encode clause %q: %w", c.Key, err)
				}
				buf.Write(body)
			}
			buf.WriteByte('}')
		}
		buf.WriteByte('}')
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads the nested object form produced by MarshalJSON.
// Object key order becomes child order.
func (r *LawRecord) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	record := NewLawRecord()

	err := decodeObject(dec, "record", func(sectionTitle string) error {
		section := record.AddSection(sectionTitle)
		return decodeObject(dec, "section "+sectionTitle, func(articleTitle string) error {
			article := section.AddArticle(articleTitle)
			return decodeObject(dec, "article "+articleTitle, func(clauseKey string) error {
				var in clauseBodyIn
				if err := dec.Decode(&in); err != nil {
					return fmt.Errorf("clause %s/%s/%s: %w", sectionTitle, articleTitle, clauseKey, err)
				}
				if in.NoiDung == nil {
					return fmt.Errorf("clause %s/%s/%s: %w", sectionTitle, articleTitle, clauseKey, ErrMissingContent)
				}
				if in.ChiTiet == nil {
					return fmt.Errorf("clause %s/%s/%s: %w", sectionTitle, articleTitle, clauseKey, ErrMissingDetails)
				}
				clause := article.AddClause(clauseKey, *in.NoiDung)
				clause.Details = append(clause.Details, *in.ChiTiet...)
				if in.EmbeddingChiTiet != nil {
					clause.DetailEmbeddings = *in.EmbeddingChiTiet
					if clause.DetailEmbeddings == nil {
						clause.DetailEmbeddings = [][]float32{}
					}
				}
				return nil
			})
		})
	})
	if err != nil {
		return err
	}

	*r = *record
	return nil
}

func writeKey(buf *bytes.Buffer, key string) error {
	b, err := json.Marshal(key)
	if err != nil {
		return err
	}
	buf.Write(b)
	buf.WriteByte(':')
	return nil
}

// decodeObject consumes one JSON object from dec, calling fn for every key.
// fn must consume the value that follows the key.
func decodeObject(dec *json.Decoder, what string, fn func(key string) error) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("%s: expected object, got %v", what, tok)
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("%s: %w", what, err)
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("%s: expected key, got %v", what, tok)
		}
		if err := fn(key); err != nil {
			return err
		}
	}

	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}
