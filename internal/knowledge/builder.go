package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"linebot/internal/domain"
)

// EmbedderFactory returns the embedder for one build. Corpus-trained
// embedders must return a fresh instance on each call.
type EmbedderFactory func() (domain.Embedder, error)

type BuilderConfig struct {
	Dir          string
	Extensions   []string
	ChunkSize    int // runes per chunk (default: 1000)
	ChunkOverlap int // runes shared by consecutive chunks (default: 200)
	NewEmbedder  EmbedderFactory
	BatchSize    int // texts per Embed call (default: 32)
	Concurrency  int // concurrent Embed calls (default: 4)
	Logger       *slog.Logger
}

// Builder turns the documents folder into an Index.
type Builder struct {
	cfg    BuilderConfig
	logger *slog.Logger
}

func NewBuilder(cfg BuilderConfig) *Builder {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = 0
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.NewEmbedder == nil {
		cfg.NewEmbedder = func() (domain.Embedder, error) { return NewTFIDF(), nil }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Builder{cfg: cfg, logger: cfg.Logger.With("component", "knowledge")}
}

// Build loads, chunks and embeds every document. It returns an error
// wrapping ErrNoDocuments when there is nothing to index.
func (b *Builder) Build(ctx context.Context) (*Index, error) {
	docs, err := LoadDocuments(b.cfg.Dir, b.cfg.Extensions, b.logger)
	if err != nil {
		return nil, err
	}
	return b.BuildFrom(ctx, docs)
}

// BuildFrom indexes an already loaded document set.
func (b *Builder) BuildFrom(ctx context.Context, docs []domain.Document) (*Index, error) {
	start := time.Now()

	var chunks []domain.Chunk
	for _, d := range docs {
		chunks = append(chunks, SplitDocument(d, b.cfg.ChunkSize, b.cfg.ChunkOverlap)...)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: documents produced no chunks", ErrNoDocuments)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	emb, err := b.cfg.NewEmbedder()
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	if err := emb.Prepare(texts); err != nil {
		return nil, fmt.Errorf("prepare %s embedder: %w", emb.Name(), err)
	}

	vectors, err := b.embedAll(ctx, emb, texts)
	if err != nil {
		return nil, err
	}

	ix, err := NewIndex(emb, chunks, vectors, len(docs), Fingerprint(docs))
	if err != nil {
		return nil, err
	}

	b.logger.Info("document index built",
		"generation", ix.ID(),
		"documents", len(docs),
		"chunks", len(chunks),
		"embedder", emb.Name(),
		"duration", time.Since(start).Round(time.Millisecond))
	return ix, nil
}

// Refresh rebuilds the index when the documents folder changed since the
// index held by h was built, and publishes the result. A failed rebuild
// leaves the published index untouched. It reports whether a new index
// was published.
func (b *Builder) Refresh(ctx context.Context, h *Holder) (bool, error) {
	docs, err := LoadDocuments(b.cfg.Dir, b.cfg.Extensions, b.logger)
	if err != nil {
		return false, err
	}

	if cur := h.Load(); cur != nil && cur.Fingerprint() == Fingerprint(docs) {
		b.logger.Debug("documents unchanged, keeping index", "generation", cur.ID())
		return false, nil
	}

	ix, err := b.BuildFrom(ctx, docs)
	if err != nil {
		return false, err
	}
	h.Store(ix)
	return true, nil
}

// embedAll embeds texts in batches, running up to Concurrency batches at
// once. Vector order matches texts.
func (b *Builder) embedAll(ctx context.Context, emb domain.Embedder, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Concurrency)

	for lo := 0; lo < len(texts); lo += b.cfg.BatchSize {
		hi := min(lo+b.cfg.BatchSize, len(texts))
		g.Go(func() error {
			out, err := emb.Embed(gctx, texts[lo:hi])
			if err != nil {
				return fmt.Errorf("embed chunks %d-%d: %w", lo, hi-1, err)
			}
			if len(out) != hi-lo {
				return fmt.Errorf("embed chunks %d-%d: got %d vectors", lo, hi-1, len(out))
			}
			copy(vectors[lo:hi], out)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}
