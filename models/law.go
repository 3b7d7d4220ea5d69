package models

// ClauseKeyPrefix prefixes the numeral of a clause marker to build its key (e.g. "Khoan_3").
const ClauseKeyPrefix = "Khoan_"

// LawRecord is the hierarchical form of a legal document: Section -> Article -> Clause.
// Children keep the order in which their markers first appeared.
type LawRecord struct {
	Sections []*Section
}

// Section (Muc) groups articles. Title is the full marker line.
type Section struct {
	Title    string
	Articles []*Article
}

// Article (Dieu) groups clauses within a section. Title is the full marker line.
type Article struct {
	Title   string
	Clauses []*Clause
}

// Clause (Khoan) is the leaf container holding the clause body.
// DetailEmbeddings is nil until the record has been annotated.
type Clause struct {
	Key              string
	Content          string
	Details          []string
	DetailEmbeddings [][]float32
}

// RecordStats summarizes the size of a LawRecord
type RecordStats struct {
	Sections int `json:"sections"`
	Articles int `json:"articles"`
	Clauses  int `json:"clauses"`
	Details  int `json:"details"`
}

// ClauseKey builds the clause key for a numeric label
func ClauseKey(label string) string {
	return ClauseKeyPrefix + label
}

// NewLawRecord creates an empty record
func NewLawRecord() *LawRecord {
	return &LawRecord{}
}

// AddSection opens a section. Re-opening an existing title clears its articles
// but keeps the section at its original position.
func (r *LawRecord) AddSection(title string) *Section {
	for _, s := range r.Sections {
		if s.Title == title {
			s.Articles = nil
			return s
		}
	}
	s := &Section{Title: title}
	r.Sections = append(r.Sections, s)
	return s
}

// AddArticle opens an article under the section, with the same re-open rule as AddSection.
func (s *Section) AddArticle(title string) *Article {
	for _, a := range s.Articles {
		if a.Title == title {
			a.Clauses = nil
			return a
		}
	}
	a := &Article{Title: title}
	s.Articles = append(s.Articles, a)
	return a
}

// AddClause opens a clause under the article. Re-opening a key replaces its body.
func (a *Article) AddClause(key, content string) *Clause {
	for _, c := range a.Clauses {
		if c.Key == key {
			c.Content = content
			c.Details = []string{}
			c.DetailEmbeddings = nil
			return c
		}
	}
	c := &Clause{Key: key, Content: content, Details: []string{}}
	a.Clauses = append(a.Clauses, c)
	return c
}

// AddDetail appends a detail line to the clause
func (c *Clause) AddDetail(text string) {
	c.Details = append(c.Details, text)
}

// Annotated reports whether every detail has an embedding
func (c *Clause) Annotated() bool {
	return c.DetailEmbeddings != nil && len(c.DetailEmbeddings) == len(c.Details)
}

// Walk visits every clause in document order
func (r *LawRecord) Walk(fn func(s *Section, a *Article, c *Clause)) {
	for _, s := range r.Sections {
		for _, a := range s.Articles {
			for _, c := range a.Clauses {
				fn(s, a, c)
			}
		}
	}
}

// Stats counts the nodes of the record
func (r *LawRecord) Stats() RecordStats {
	var st RecordStats
	st.Sections = len(r.Sections)
	for _, s := range r.Sections {
		st.Articles += len(s.Articles)
		for _, a := range s.Articles {
			st.Clauses += len(a.Clauses)
			for _, c := range a.Clauses {
				st.Details += len(c.Details)
			}
		}
	}
	return st
}
