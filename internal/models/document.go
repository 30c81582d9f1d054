package models

// Document is a loaded source file (or crawled page) before splitting.
type Document struct {
	ID       string
	Source   string
	Title    string
	Content  string
	Metadata map[string]interface{}
}

// Chunk is a piece of a Document as stored in the vector index. Chunks are
// never mutated once the store has been built.
type Chunk struct {
	ID       string
	Text     string
	Metadata map[string]interface{}
	SourceID string
}

// Source returns metadata["source"] or "" when it is absent or not a string.
func (c Chunk) Source() string {
	if c.Metadata == nil {
		return ""
	}
	s, _ := c.Metadata["source"].(string)
	return s
}

// SearchResult pairs a chunk with its squared Euclidean distance to the query.
type SearchResult struct {
	Chunk    Chunk
	Distance float32
}

// ContextStrings returns the chunk texts of results in order.
func ContextStrings(results []SearchResult) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.Chunk.Text)
	}
	return out
}
