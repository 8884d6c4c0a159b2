package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"linebot/internal/agent"
	"linebot/internal/config"
	"linebot/internal/domain"
	"linebot/internal/knowledge"
	"linebot/internal/metrics"
	"linebot/internal/provider"
)

// app holds the components shared by serve, index and ask.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	holder    *knowledge.Holder
	builder   *knowledge.Builder // nil when retrieval is off
	responder *agent.Responder
}

// newApp wires providers, the index builder and the responder. It does not
// build the index.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, holder: &knowledge.Holder{}}
	factory := provider.NewFactory(cfg, logger)

	var gen domain.Generator
	var retriever domain.Retriever

	if cfg.Bot.Mode == "rag" {
		g, err := factory.Generator(ctx)
		if err != nil {
			return nil, &domain.StartupError{Step: "generator", Err: err}
		}
		gen = g

		if cfg.Knowledge.Enabled {
			b, err := newBuilder(ctx, cfg, factory, logger)
			if err != nil {
				return nil, &domain.StartupError{Step: "embedder", Err: err}
			}
			a.builder = b
			retriever = a.holder
		}
	}

	a.responder = agent.NewResponder(agent.ResponderConfig{
		Mode:        cfg.Bot.Mode,
		EchoPrefix:  cfg.Bot.Messages.EchoPrefix,
		NotReady:    cfg.Bot.Messages.NotReady,
		Apology:     cfg.Bot.Messages.Apology,
		Welcome:     cfg.Bot.Messages.Welcome,
		Generator:   gen,
		Retriever:   retriever,
		Prompts:     agent.NewPromptBuilder(cfg.Generation.SystemPrompt),
		Model:       cfg.Generation.Model,
		MaxTokens:   cfg.Generation.MaxTokens,
		Temperature: cfg.Generation.Temperature,
		TopK:        cfg.Generation.TopK,
		Timeout:     cfg.Generation.Timeout,
		Logger:      logger,
	})
	return a, nil
}

func newBuilder(ctx context.Context, cfg *config.Config, factory *provider.Factory, logger *slog.Logger) (*knowledge.Builder, error) {
	newEmbedder, err := factory.EmbedderFactory(ctx)
	if err != nil {
		return nil, err
	}
	return knowledge.NewBuilder(knowledge.BuilderConfig{
		Dir:          cfg.Knowledge.DocumentsDir,
		Extensions:   cfg.Knowledge.Extensions,
		ChunkSize:    cfg.Knowledge.ChunkSize,
		ChunkOverlap: cfg.Knowledge.ChunkOverlap,
		NewEmbedder:  newEmbedder,
		BatchSize:    cfg.Knowledge.EmbedBatchSize,
		Concurrency:  cfg.Knowledge.EmbedConcurrency,
		Logger:       logger,
	}), nil
}

// buildIndex runs the initial build. An empty documents folder leaves the
// bot not ready; other failures are fatal only with knowledge.failOnError.
func (a *app) buildIndex(ctx context.Context) error {
	if a.builder == nil {
		return nil
	}

	ix, err := a.builder.Build(ctx)
	if err != nil {
		metrics.IndexBuildsFailed.Inc()
		if errors.Is(err, knowledge.ErrNoDocuments) {
			a.logger.Warn("no documents to index, questions get the not-ready reply",
				"dir", a.cfg.Knowledge.DocumentsDir)
			return nil
		}
		if a.cfg.Knowledge.FailOnError {
			return &domain.StartupError{Step: "index", Err: err}
		}
		a.logger.Error("index build failed, questions get the not-ready reply", "err", err)
		return nil
	}

	a.holder.Store(ix)
	a.record(ix)
	return nil
}

// refreshIndex rebuilds the index when the documents changed. The previous
// index stays published if the rebuild fails.
func (a *app) refreshIndex(ctx context.Context) error {
	swapped, err := a.builder.Refresh(ctx, a.holder)
	if errors.Is(err, knowledge.ErrNoDocuments) {
		a.logger.Warn("no documents to index, keeping current index", "dir", a.cfg.Knowledge.DocumentsDir)
		return nil
	}
	if err != nil {
		metrics.IndexBuildsFailed.Inc()
		return fmt.Errorf("refresh index: %w", err)
	}
	if swapped {
		a.record(a.holder.Load())
	}
	return nil
}

func (a *app) record(ix *knowledge.Index) {
	if ix == nil {
		return
	}
	metrics.IndexChunks.Set(int64(ix.Len()))
	metrics.IndexDocuments.Set(int64(ix.Documents()))
	a.logger.Info("index published",
		"generation", ix.ID(),
		"documents", ix.Documents(),
		"chunks", ix.Len(),
		"embedder", ix.Embedder(),
	)
}
