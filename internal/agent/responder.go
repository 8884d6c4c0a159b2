// Package agent turns an incoming text message into exactly one reply.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"linebot/internal/domain"
	"linebot/internal/metrics"
)

// Outcome classifies how a reply was produced.
type Outcome string

const (
	OutcomeAnswered Outcome = "answered"  // generated from the model
	OutcomeEchoed   Outcome = "echoed"    // echo mode
	OutcomeNotReady Outcome = "not_ready" // no index published yet
	OutcomeDegraded Outcome = "degraded"  // retrieval or generation failed; apology sent
)

// Reply is the handler's result. Err is for operators only and never
// reaches the user.
type Reply struct {
	Text    string
	Outcome Outcome
	Err     error
}

type ResponderConfig struct {
	Mode       string // "rag" | "echo"
	EchoPrefix string
	NotReady   string
	Apology    string
	Welcome    string

	Generator domain.Generator
	Retriever domain.Retriever // nil = answer without retrieval
	Prompts   *PromptBuilder

	Model       string
	MaxTokens   int
	Temperature float64
	TopK        int
	Timeout     time.Duration // bounds retrieval plus generation (default: 20s)

	Logger *slog.Logger
}

// Responder is the message handler.
type Responder struct {
	cfg    ResponderConfig
	logger *slog.Logger
}

func NewResponder(cfg ResponderConfig) *Responder {
	if cfg.Mode == "" {
		cfg.Mode = "rag"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 4
	}
	if cfg.Prompts == nil {
		cfg.Prompts = NewPromptBuilder("")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Responder{cfg: cfg, logger: cfg.Logger.With("component", "responder")}
}

// Respond produces the reply for a text message. It never fails: every
// fault becomes the apology text with OutcomeDegraded.
func (r *Responder) Respond(ctx context.Context, text string) (reply Reply) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("panic while generating reply", "panic", p, "stack", string(debug.Stack()))
			reply = r.degraded(&domain.GenerationError{Stage: "panic", Err: fmt.Errorf("%v", p)})
		}
		metrics.Responses(string(reply.Outcome)).Inc()
	}()

	if r.cfg.Mode == "echo" {
		return Reply{Text: r.cfg.EchoPrefix + text, Outcome: OutcomeEchoed}
	}
	return r.answer(ctx, text)
}

// Welcome returns the greeting for a follow event, or false when none is
// configured.
func (r *Responder) Welcome() (Reply, bool) {
	if r.cfg.Welcome == "" {
		return Reply{}, false
	}
	return Reply{Text: r.cfg.Welcome, Outcome: OutcomeAnswered}, true
}

func (r *Responder) answer(ctx context.Context, question string) Reply {
	if r.cfg.Generator == nil {
		return r.notReady()
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	var results []domain.SearchResult
	if r.cfg.Retriever != nil {
		var err error
		results, err = r.cfg.Retriever.Search(ctx, question, r.cfg.TopK)
		if errors.Is(err, domain.ErrNotReady) {
			return r.notReady()
		}
		if err != nil {
			return r.degraded(&domain.GenerationError{Stage: "retrieve", Err: err})
		}
	}

	start := time.Now()
	resp, err := r.cfg.Generator.Generate(ctx, domain.GenerateRequest{
		System:      r.cfg.Prompts.System(),
		Prompt:      r.cfg.Prompts.Build(question, results),
		Model:       r.cfg.Model,
		MaxTokens:   r.cfg.MaxTokens,
		Temperature: r.cfg.Temperature,
	})
	metrics.GenerationLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return r.degraded(&domain.GenerationError{Stage: "generate", Err: err})
	}

	answer := strings.TrimSpace(resp.Text)
	if answer == "" {
		return r.degraded(&domain.GenerationError{Stage: "generate", Err: errors.New("empty response")})
	}

	r.logger.Info("answer generated",
		"chunks", len(results),
		"model", resp.Model,
		"tokens", resp.Usage.TotalTokens,
		"duration", time.Since(start).Round(time.Millisecond))
	return Reply{Text: answer, Outcome: OutcomeAnswered}
}

func (r *Responder) notReady() Reply {
	return Reply{Text: r.cfg.NotReady, Outcome: OutcomeNotReady, Err: domain.ErrNotReady}
}

func (r *Responder) degraded(err error) Reply {
	r.logger.Error("reply degraded to apology", "error", err)
	return Reply{Text: r.cfg.Apology, Outcome: OutcomeDegraded, Err: err}
}
