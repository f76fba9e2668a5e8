package search

// Hit is one scored result from a semantic, keyword or hybrid search.
// SemanticScore is set only when a dense score contributed.
type Hit struct {
	ID            string
	DocumentID    string
	Content       string
	Similarity    float64
	SemanticScore *float64
}
