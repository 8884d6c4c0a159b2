package knowledge

import (
	"context"
	"sync/atomic"

	"linebot/internal/domain"
)

// Holder publishes the current index. Builds happen off to the side and
// are swapped in atomically, so readers never block and never observe a
// partially built index.
type Holder struct {
	current atomic.Pointer[Index]
}

// Load returns the published index, or nil before the first build.
func (h *Holder) Load() *Index { return h.current.Load() }

// Store publishes ix, replacing any previous index.
func (h *Holder) Store(ix *Index) { h.current.Store(ix) }

// Ready reports whether a non-empty index has been published.
func (h *Holder) Ready() bool {
	ix := h.current.Load()
	return ix != nil && ix.Len() > 0
}

// Search queries the published index. It returns domain.ErrNotReady when
// nothing has been published.
func (h *Holder) Search(ctx context.Context, query string, topK int) ([]domain.SearchResult, error) {
	ix := h.current.Load()
	if ix == nil || ix.Len() == 0 {
		return nil, domain.ErrNotReady
	}
	return ix.Search(ctx, query, topK)
}

var _ domain.Retriever = (*Holder)(nil)
