package models

// LawEntry is the flat projection of one detail line together with the
// section, article and clause it belongs to.
type LawEntry struct {
	Section string `json:"section"`
	Article string `json:"article"`
	Clause  string `json:"clause"`
	Content string `json:"content"`
	Detail  string `json:"detail"`
}

// RetrievalResult is a LawEntry scored against a query
type RetrievalResult struct {
	LawEntry
	Similarity float64 `json:"similarity"` // cosine similarity in [-1, 1]
}
