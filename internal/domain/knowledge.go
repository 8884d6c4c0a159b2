package domain

import "context"

// Document is a source file loaded from the documents folder.
type Document struct {
	ID          string `json:"id"`
	Path        string `json:"path"`
	Content     string `json:"-"`
	Fingerprint string `json:"fingerprint"`
}

// Chunk is a fixed-size slice of a document's text. Consecutive chunks of
// the same document overlap by a fixed number of runes.
type Chunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Source     string `json:"source"`
	Offset     int    `json:"offset"` // rune offset into the document
	Index      int    `json:"index"`  // ordinal within the document
	Text       string `json:"text"`
}

// SearchResult is a chunk matched by a similarity query.
type SearchResult struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// Embedder converts text into vectors. Implementations that learn from the
// corpus (TF-IDF) must be prepared before Embed is called.
type Embedder interface {
	Name() string
	Prepare(corpus []string) error
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Retriever returns the chunks most similar to a query.
type Retriever interface {
	Search(ctx context.Context, query string, topK int) ([]SearchResult, error)
}
