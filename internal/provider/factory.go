package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"linebot/internal/config"
	"linebot/internal/domain"
	"linebot/internal/knowledge"
)

// Factory creates and caches the generator and embedders from config.
type Factory struct {
	cfg    *config.Config
	logger *slog.Logger
	client *http.Client

	mu     sync.Mutex
	gemini map[string]*Gemini // keyed by API key
}

// NewFactory creates a factory sharing one pooled HTTP client between all
// providers.
func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	return &Factory{
		cfg:    cfg,
		logger: logger,
		client: SharedHTTPClient(cfg.Generation.Timeout + defaultHTTPTimeout/4),
		gemini: make(map[string]*Gemini),
	}
}

// Generator returns the configured generative model.
func (f *Factory) Generator(ctx context.Context) (domain.Generator, error) {
	g := f.cfg.Generation
	switch g.Provider {
	case "openai":
		return NewOpenAI(OpenAIConfig{
			APIKey:     g.APIKey,
			APIBase:    g.APIBase,
			Model:      g.Model,
			HTTPClient: f.client,
			Logger:     f.logger.With("component", "provider", "provider", "openai"),
		}), nil
	case "gemini":
		return f.geminiClient(ctx, g.APIKey, g.APIBase)
	default:
		return nil, fmt.Errorf("unknown generation provider: %s", g.Provider)
	}
}

// EmbedderFactory returns the constructor the index builder calls once per
// build. TF-IDF gets a fresh instance each time; remote embedders are shared.
func (f *Factory) EmbedderFactory(ctx context.Context) (knowledge.EmbedderFactory, error) {
	k := f.cfg.Knowledge
	switch k.Embedder {
	case "tfidf":
		return func() (domain.Embedder, error) { return knowledge.NewTFIDF(), nil }, nil
	case "openai":
		base := ""
		if f.cfg.Generation.Provider == "openai" {
			base = f.cfg.Generation.APIBase
		}
		emb := NewOpenAIEmbedder(OpenAIEmbedderConfig{
			APIKey:     f.cfg.EmbeddingKey(),
			APIBase:    base,
			Model:      k.EmbeddingModel,
			HTTPClient: f.client,
			Logger:     f.logger.With("component", "embedder", "provider", "openai"),
		})
		return func() (domain.Embedder, error) { return emb, nil }, nil
	case "gemini":
		g, err := f.geminiClient(ctx, f.cfg.EmbeddingKey(), "")
		if err != nil {
			return nil, err
		}
		return func() (domain.Embedder, error) { return g, nil }, nil
	default:
		return nil, fmt.Errorf("unknown embedder: %s", k.Embedder)
	}
}

func (f *Factory) geminiClient(ctx context.Context, apiKey, apiBase string) (*Gemini, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if g, ok := f.gemini[apiKey]; ok {
		return g, nil
	}

	model := f.cfg.Generation.Model
	if f.cfg.Generation.Provider != "gemini" {
		model = ""
	}
	g, err := NewGemini(ctx, GeminiConfig{
		APIKey:         apiKey,
		APIBase:        apiBase,
		Model:          model,
		EmbeddingModel: f.cfg.Knowledge.EmbeddingModel,
		HTTPClient:     f.client,
		Logger:         f.logger.With("component", "provider", "provider", "gemini"),
	})
	if err != nil {
		return nil, err
	}
	f.gemini[apiKey] = g
	return g, nil
}
