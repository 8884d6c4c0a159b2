// Package knowledge loads the documents folder, splits it into chunks,
// embeds them and serves similarity search over the result.
package knowledge

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"linebot/internal/domain"
)

// Index is an immutable in-memory vector index over document chunks.
// It keeps the embedder that produced its vectors so queries are embedded
// into the same space.
type Index struct {
	id          string
	chunks      []domain.Chunk
	vectors     [][]float32
	norms       []float64
	embedder    domain.Embedder
	documents   int
	fingerprint string
	builtAt     time.Time
}

// NewIndex builds an index from parallel chunk and vector slices.
func NewIndex(embedder domain.Embedder, chunks []domain.Chunk, vectors [][]float32, documents int, fingerprint string) (*Index, error) {
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("index: %d chunks but %d vectors", len(chunks), len(vectors))
	}
	dim := -1
	norms := make([]float64, len(vectors))
	for i, v := range vectors {
		if dim == -1 {
			dim = len(v)
		} else if len(v) != dim {
			return nil, fmt.Errorf("index: vector %d has dimension %d, want %d", i, len(v), dim)
		}
		norms[i] = norm(v)
	}
	return &Index{
		id:          uuid.NewString(),
		chunks:      chunks,
		vectors:     vectors,
		norms:       norms,
		embedder:    embedder,
		documents:   documents,
		fingerprint: fingerprint,
		builtAt:     time.Now(),
	}, nil
}

func (ix *Index) ID() string          { return ix.id }
func (ix *Index) Len() int            { return len(ix.chunks) }
func (ix *Index) Documents() int      { return ix.documents }
func (ix *Index) Fingerprint() string { return ix.fingerprint }
func (ix *Index) BuiltAt() time.Time  { return ix.builtAt }
func (ix *Index) Embedder() string    { return ix.embedder.Name() }

// Search returns up to topK chunks ranked by cosine similarity to query.
// Ties keep document order. Chunks orthogonal to the query are omitted.
func (ix *Index) Search(ctx context.Context, query string, topK int) ([]domain.SearchResult, error) {
	if topK <= 0 {
		topK = 4
	}
	if len(ix.chunks) == 0 {
		return nil, nil
	}

	qv, err := ix.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(qv) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(qv))
	}
	q := qv[0]
	qn := norm(q)
	if qn == 0 {
		return nil, nil
	}

	results := make([]domain.SearchResult, 0, len(ix.chunks))
	for i, v := range ix.vectors {
		if len(v) != len(q) || ix.norms[i] == 0 {
			continue
		}
		score := dot(q, v) / (qn * ix.norms[i])
		if score <= 0 || math.IsNaN(score) {
			continue
		}
		results = append(results, domain.SearchResult{Chunk: ix.chunks[i], Score: score})
	}

	sort.SliceStable(results, func(a, b int) bool { return results[a].Score > results[b].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func norm(v []float32) float64 {
	return math.Sqrt(dot(v, v))
}
