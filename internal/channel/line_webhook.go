// Package channel connects the bot to the LINE Messaging API: webhook
// intake, signature verification, event dispatch and reply delivery.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"linebot/internal/agent"
	"linebot/internal/domain"
	"linebot/internal/knowledge"
	"linebot/internal/metrics"
)

const (
	signatureHeader = "X-Line-Signature"
	statusMessage   = "LineBot is running!"
)

// Responder produces replies for text messages and follow events.
type Responder interface {
	Respond(ctx context.Context, text string) agent.Reply
	Welcome() (agent.Reply, bool)
}

// Deduper records processed webhook event ids. MarkProcessed reports
// false for ids it has seen before.
type Deduper interface {
	MarkProcessed(ctx context.Context, eventID string) (bool, error)
}

type LineWebhookConfig struct {
	Addr            string
	CallbackPath    string // default: /callback
	MaxBodyBytes    int64  // default: 1 MiB
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	Parser    domain.EventParser
	Sender    domain.ReplySender
	Responder Responder
	Deduper   Deduper           // nil = every delivery is handled
	Index     *knowledge.Holder // optional, reported by GET /

	MetricsPath    string       // empty = not served
	MetricsHandler http.Handler // served at MetricsPath

	Logger *slog.Logger
}

// LineWebhook is the HTTP front end of the bot.
type LineWebhook struct {
	cfg    LineWebhookConfig
	logger *slog.Logger
	server *http.Server
}

func NewLineWebhook(cfg LineWebhookConfig) *LineWebhook {
	if cfg.CallbackPath == "" {
		cfg.CallbackPath = "/callback"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &LineWebhook{cfg: cfg, logger: cfg.Logger.With("component", "webhook")}
}

// Start serves HTTP until ctx is cancelled, then shuts down gracefully.
func (w *LineWebhook) Start(ctx context.Context) error {
	w.server = &http.Server{
		Addr:              w.cfg.Addr,
		Handler:           w.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       w.cfg.ReadTimeout,
		WriteTimeout:      w.cfg.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	w.logger.Info("webhook server starting", "addr", w.cfg.Addr, "callback", w.cfg.CallbackPath)

	errCh := make(chan error, 1)
	go func() {
		if err := w.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		w.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), w.cfg.ShutdownTimeout)
		defer cancel()
		if err := w.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook server shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("webhook server error: %w", err)
	}
}

// Router returns the HTTP handler with all routes mounted.
func (w *LineWebhook) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(w.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/", w.handleRoot)
	r.Get("/test", w.handleTest)
	r.Post(w.cfg.CallbackPath, w.handleCallback)
	if w.cfg.MetricsPath != "" && w.cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, w.cfg.MetricsPath, w.cfg.MetricsHandler)
	}
	return r
}

func (w *LineWebhook) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(rw, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		w.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

type statusResponse struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	IndexReady  bool   `json:"index_ready"`
	IndexChunks int    `json:"index_chunks"`
	IndexID     string `json:"index_generation,omitempty"`
}

func (w *LineWebhook) handleRoot(rw http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Status: "OK", Message: statusMessage}
	if w.cfg.Index != nil {
		if ix := w.cfg.Index.Load(); ix != nil {
			resp.IndexReady = ix.Len() > 0
			resp.IndexChunks = ix.Len()
			resp.IndexID = ix.ID()
		}
	}
	respondJSON(rw, http.StatusOK, resp)
}

func (w *LineWebhook) handleTest(rw http.ResponseWriter, r *http.Request) {
	respondJSON(rw, http.StatusOK, map[string]string{"message": statusMessage})
}

func (w *LineWebhook) handleCallback(rw http.ResponseWriter, r *http.Request) {
	metrics.WebhookRequests.Inc()

	signature := r.Header.Get(signatureHeader)
	if signature == "" {
		metrics.SignatureFailures.Inc()
		w.logger.Warn("webhook signature missing")
		respondDetail(rw, http.StatusBadRequest, "Missing signature")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, w.cfg.MaxBodyBytes+1))
	if err != nil {
		respondDetail(rw, http.StatusBadRequest, "Invalid payload")
		return
	}
	if int64(len(body)) > w.cfg.MaxBodyBytes {
		respondDetail(rw, http.StatusRequestEntityTooLarge, "Payload too large")
		return
	}

	events, err := w.cfg.Parser.Parse(body, signature)
	switch {
	case errors.Is(err, domain.ErrInvalidSignature):
		metrics.SignatureFailures.Inc()
		w.logger.Warn("webhook signature verification failed")
		respondDetail(rw, http.StatusBadRequest, "Invalid signature")
		return
	case err != nil:
		w.logger.Warn("webhook payload rejected", "error", err)
		respondDetail(rw, http.StatusBadRequest, "Invalid payload")
		return
	}

	// Replies must still go out if the platform drops the connection.
	ctx := context.WithoutCancel(r.Context())
	for _, ev := range events {
		w.dispatch(ctx, ev)
	}

	rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
	rw.WriteHeader(http.StatusOK)
	io.WriteString(rw, "OK")
}

// dispatch handles one event. Failures stay inside: they are logged and
// never affect other events or the HTTP response.
func (w *LineWebhook) dispatch(ctx context.Context, ev domain.Event) {
	logger := w.logger.With("kind", ev.Kind, "event_id", ev.WebhookEventID)
	defer func() {
		if p := recover(); p != nil {
			logger.Error("panic while handling event", "panic", p, "stack", string(debug.Stack()))
		}
	}()

	metrics.EventsByKind(string(ev.Kind)).Inc()

	if w.cfg.Deduper != nil && ev.WebhookEventID != "" {
		first, err := w.cfg.Deduper.MarkProcessed(ctx, ev.WebhookEventID)
		if err != nil {
			logger.Warn("dedupe store unavailable, handling event anyway", "error", err)
		} else if !first {
			metrics.DuplicateEvents.Inc()
			logger.Info("duplicate event skipped", "redelivery", ev.Redelivery)
			return
		}
	}

	if ev.Kind != domain.EventText && ev.Kind != domain.EventFollow {
		logger.Debug("event ignored", "message_type", ev.MessageType)
		return
	}
	if !ev.CanReply() {
		logger.Warn("event has no reply token")
		return
	}

	var reply agent.Reply
	if ev.Kind == domain.EventText {
		reply = w.cfg.Responder.Respond(ctx, ev.Text)
	} else {
		var ok bool
		if reply, ok = w.cfg.Responder.Welcome(); !ok {
			return
		}
	}

	if reply.Err != nil {
		logger.Info("replying with fallback", "outcome", reply.Outcome, "error", reply.Err)
	}
	if err := w.cfg.Sender.Reply(ctx, ev.ReplyToken, reply.Text); err != nil {
		logger.Error("reply failed", "outcome", reply.Outcome, "error", err)
		return
	}
	logger.Debug("reply sent", "outcome", reply.Outcome)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondDetail(w http.ResponseWriter, status int, detail string) {
	respondJSON(w, status, map[string]string{"detail": detail})
}
