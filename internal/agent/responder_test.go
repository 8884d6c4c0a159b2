package agent

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"linebot/internal/domain"
	"linebot/internal/knowledge"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

const (
	notReadyText = "The system is not ready yet. Please try again later."
	apologyText  = "An error occurred, please try again later."
)

// mockGenerator records the last request and returns a canned result.
type mockGenerator struct {
	resp    *domain.GenerateResponse
	err     error
	panic   any
	echo    bool // answer with the prompt itself
	block   bool // wait for ctx cancellation
	lastReq domain.GenerateRequest
	calls   int
}

func (m *mockGenerator) Name() string { return "mock" }

func (m *mockGenerator) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.GenerateResponse, error) {
	m.calls++
	m.lastReq = req
	if m.panic != nil {
		panic(m.panic)
	}
	if m.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if m.err != nil {
		return nil, m.err
	}
	if m.echo {
		return &domain.GenerateResponse{Text: req.Prompt}, nil
	}
	return m.resp, nil
}

type mockRetriever struct {
	results []domain.SearchResult
	err     error
}

func (m *mockRetriever) Search(context.Context, string, int) ([]domain.SearchResult, error) {
	return m.results, m.err
}

func newResponder(gen domain.Generator, ret domain.Retriever) *Responder {
	return NewResponder(ResponderConfig{
		Mode:       "rag",
		EchoPrefix: "您說了：",
		NotReady:   notReadyText,
		Apology:    apologyText,
		Generator:  gen,
		Retriever:  ret,
		Prompts:    NewPromptBuilder("answer from context"),
		Timeout:    time.Second,
		Logger:     testLogger(),
	})
}

func TestRespond_EchoMode(t *testing.T) {
	r := NewResponder(ResponderConfig{Mode: "echo", EchoPrefix: "您說了：", Logger: testLogger()})
	reply := r.Respond(context.Background(), "hello")
	if reply.Text != "您說了：hello" || reply.Outcome != OutcomeEchoed {
		t.Fatalf("unexpected echo reply: %+v", reply)
	}
}

func TestRespond_NotReadyIsVerbatim(t *testing.T) {
	gen := &mockGenerator{resp: &domain.GenerateResponse{Text: "should not be used"}}
	var holder knowledge.Holder
	r := newResponder(gen, &holder)

	reply := r.Respond(context.Background(), "What is the capital of France?")
	if reply.Text != notReadyText {
		t.Fatalf("expected not-ready text verbatim, got %q", reply.Text)
	}
	if reply.Outcome != OutcomeNotReady || !errors.Is(reply.Err, domain.ErrNotReady) {
		t.Fatalf("unexpected outcome: %+v", reply)
	}
	if gen.calls != 0 {
		t.Fatal("generator must not be called when not ready")
	}
}

func TestRespond_GenerationFailureApologises(t *testing.T) {
	gen := &mockGenerator{err: errors.New("upstream 500")}
	reply := newResponder(gen, &mockRetriever{}).Respond(context.Background(), "hi")

	if reply.Text != apologyText || reply.Outcome != OutcomeDegraded {
		t.Fatalf("expected apology, got %+v", reply)
	}
	var gerr *domain.GenerationError
	if !errors.As(reply.Err, &gerr) || gerr.Stage != "generate" {
		t.Fatalf("expected generate-stage GenerationError, got %v", reply.Err)
	}
	if strings.Contains(reply.Text, "upstream") {
		t.Fatal("error details must not reach the user")
	}
}

func TestRespond_RetrievalFailureApologises(t *testing.T) {
	gen := &mockGenerator{resp: &domain.GenerateResponse{Text: "x"}}
	reply := newResponder(gen, &mockRetriever{err: errors.New("embed failed")}).Respond(context.Background(), "hi")

	var gerr *domain.GenerationError
	if reply.Text != apologyText || !errors.As(reply.Err, &gerr) || gerr.Stage != "retrieve" {
		t.Fatalf("expected retrieve-stage apology, got %+v", reply)
	}
}

func TestRespond_PanicApologises(t *testing.T) {
	gen := &mockGenerator{panic: "boom"}
	reply := newResponder(gen, &mockRetriever{}).Respond(context.Background(), "hi")

	var gerr *domain.GenerationError
	if reply.Text != apologyText || !errors.As(reply.Err, &gerr) || gerr.Stage != "panic" {
		t.Fatalf("expected panic apology, got %+v", reply)
	}
}

func TestRespond_EmptyOutputApologises(t *testing.T) {
	gen := &mockGenerator{resp: &domain.GenerateResponse{Text: "   "}}
	reply := newResponder(gen, &mockRetriever{}).Respond(context.Background(), "hi")
	if reply.Text != apologyText {
		t.Fatalf("expected apology for blank output, got %q", reply.Text)
	}
}

func TestRespond_TimeoutApologises(t *testing.T) {
	gen := &mockGenerator{block: true}
	r := newResponder(gen, &mockRetriever{})
	r.cfg.Timeout = 50 * time.Millisecond

	start := time.Now()
	reply := r.Respond(context.Background(), "hi")
	if reply.Text != apologyText || !errors.Is(reply.Err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline apology, got %+v", reply)
	}
	if time.Since(start) > time.Second {
		t.Fatal("timeout not enforced")
	}
}

func TestRespond_PassesSettingsToGenerator(t *testing.T) {
	gen := &mockGenerator{resp: &domain.GenerateResponse{Text: "ok"}}
	r := newResponder(gen, nil)
	r.cfg.Model = "m"
	r.cfg.MaxTokens = 99
	r.cfg.Temperature = 0.3

	reply := r.Respond(context.Background(), "  question  ")
	if reply.Outcome != OutcomeAnswered || reply.Text != "ok" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	req := gen.lastReq
	if req.System != "answer from context" || req.Model != "m" || req.MaxTokens != 99 || req.Temperature != 0.3 {
		t.Fatalf("settings not forwarded: %+v", req)
	}
	if !strings.HasSuffix(req.Prompt, "question") || strings.Contains(req.Prompt, "## Context") {
		t.Fatalf("unexpected prompt without retrieval: %q", req.Prompt)
	}
}

func TestRespond_RetrievedContextReachesGenerator(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{
		"paris.txt":  "The capital of France is Paris.",
		"berlin.txt": "Berlin is the capital of Germany.",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	b := knowledge.NewBuilder(knowledge.BuilderConfig{
		Dir: dir, Extensions: []string{".txt"}, ChunkSize: 1000, ChunkOverlap: 200, Logger: testLogger(),
	})
	var holder knowledge.Holder
	if _, err := b.Refresh(context.Background(), &holder); err != nil {
		t.Fatalf("build: %v", err)
	}

	gen := &mockGenerator{echo: true}
	r := newResponder(gen, &holder)
	r.cfg.TopK = 1

	reply := r.Respond(context.Background(), "What is the capital of France?")
	if reply.Outcome != OutcomeAnswered {
		t.Fatalf("unexpected outcome: %+v", reply)
	}
	if !strings.Contains(reply.Text, "Paris") {
		t.Fatalf("expected Paris in reply, got %q", reply.Text)
	}
	if strings.Contains(reply.Text, "Berlin") {
		t.Fatalf("topK=1 should exclude Berlin, got %q", reply.Text)
	}
}

func TestWelcome(t *testing.T) {
	r := NewResponder(ResponderConfig{Logger: testLogger()})
	if _, ok := r.Welcome(); ok {
		t.Fatal("no welcome configured")
	}
	r = NewResponder(ResponderConfig{Welcome: "hi there", Logger: testLogger()})
	if reply, ok := r.Welcome(); !ok || reply.Text != "hi there" {
		t.Fatalf("unexpected welcome: %+v %v", reply, ok)
	}
}

func TestPromptBuilder_IncludesSources(t *testing.T) {
	pb := NewPromptBuilder("  sys  ")
	prompt := pb.Build("q?", []domain.SearchResult{{Chunk: domain.Chunk{Source: "a.md", Index: 2, Text: "alpha"}}})
	if pb.System() != "sys" {
		t.Fatalf("system prompt not trimmed: %q", pb.System())
	}
	if !strings.Contains(prompt, "a.md (chunk 2)") || !strings.Contains(prompt, "alpha") {
		t.Fatalf("context missing from prompt: %q", prompt)
	}
	if strings.Index(prompt, "alpha") > strings.Index(prompt, "q?") {
		t.Fatal("context should precede the question")
	}
}
