package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"linebot/internal/domain"
)

// Gemini implements domain.Generator and domain.Embedder with the Google
// Gen AI SDK.
type Gemini struct {
	client         *genai.Client
	model          string
	embeddingModel string
	logger         *slog.Logger
}

type GeminiConfig struct {
	APIKey         string
	APIBase        string // optional endpoint override
	Model          string
	EmbeddingModel string
	HTTPClient     *http.Client
	Logger         *slog.Logger
}

func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "text-embedding-004"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = SharedHTTPClient(defaultHTTPTimeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	clientConfig := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.APIBase != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.APIBase}
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Gemini{
		client:         client,
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		logger:         cfg.Logger,
	}, nil
}

func (g *Gemini) Name() string { return "gemini" }

// Healthy checks that the API key is accepted and the model exists.
func (g *Gemini) Healthy(ctx context.Context) error {
	if _, err := g.client.Models.Get(ctx, g.model, nil); err != nil {
		return fmt.Errorf("gemini: %w", err)
	}
	return nil
}

// Generate sends a single-turn request with the system prompt as a system
// instruction.
func (g *Gemini) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.GenerateResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = g.model
	}

	temperature := float32(req.Temperature)
	gcfg := &genai.GenerateContentConfig{Temperature: &temperature}
	if req.System != "" {
		gcfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.MaxTokens > 0 {
		gcfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	prompt := []*genai.Content{{
		Role:  genai.RoleUser,
		Parts: []*genai.Part{{Text: req.Prompt}},
	}}

	resp, err := g.client.Models.GenerateContent(ctx, model, prompt, gcfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.New("gemini: response has no candidates")
	}

	candidate := resp.Candidates[0]
	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if part == nil || part.Text == "" || part.Thought {
			continue
		}
		sb.WriteString(part.Text)
	}

	out := &domain.GenerateResponse{
		Text:         sb.String(),
		Model:        model,
		FinishReason: string(candidate.FinishReason),
		LatencyMs:    time.Since(start).Milliseconds(),
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = domain.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	g.logger.Debug("gemini response",
		"model", model,
		"finish_reason", out.FinishReason,
		"tokens", out.Usage.TotalTokens,
		"latency_ms", out.LatencyMs)
	return out, nil
}

// Prepare is a no-op: the remote model needs no corpus statistics.
func (g *Gemini) Prepare([]string) error { return nil }

// Embed embeds texts with the configured embedding model in one request.
func (g *Gemini) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{{Text: t}}}
	}

	resp, err := g.client.Models.EmbedContent(ctx, g.embeddingModel, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini embed: got %d vectors for %d inputs", len(resp.Embeddings), len(texts))
	}

	out := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		if e == nil {
			return nil, fmt.Errorf("gemini embed: missing vector %d", i)
		}
		out[i] = e.Values
	}
	return out, nil
}

var (
	_ domain.Generator = (*Gemini)(nil)
	_ domain.Embedder  = (*Gemini)(nil)
)
