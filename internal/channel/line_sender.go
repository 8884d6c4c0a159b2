package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"

	"linebot/internal/domain"
	"linebot/internal/metrics"
)

// maxTextRunes is the messaging API limit for a text message.
const maxTextRunes = 5000

// LineSender delivers replies through the LINE Messaging API.
type LineSender struct {
	api    *messaging_api.MessagingApiAPI
	logger *slog.Logger
}

type LineSenderConfig struct {
	AccessToken string
	Endpoint    string // optional API endpoint override
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

func NewLineSender(cfg LineSenderConfig) (*LineSender, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	var opts []messaging_api.MessagingApiAPIOption
	if cfg.HTTPClient != nil {
		opts = append(opts, messaging_api.WithHTTPClient(cfg.HTTPClient))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, messaging_api.WithEndpoint(cfg.Endpoint))
	}

	api, err := messaging_api.NewMessagingApiAPI(cfg.AccessToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("create messaging api client: %w", err)
	}
	return &LineSender{api: api, logger: cfg.Logger.With("component", "line-sender")}, nil
}

// Reply sends text as a single text message, truncated to the platform
// limit. Failures are not retried.
func (s *LineSender) Reply(ctx context.Context, replyToken, text string) error {
	if replyToken == "" {
		return errors.New("empty reply token")
	}
	if text == "" {
		return errors.New("empty reply text")
	}

	_, err := s.api.WithContext(ctx).ReplyMessage(&messaging_api.ReplyMessageRequest{
		ReplyToken: replyToken,
		Messages: []messaging_api.MessageInterface{
			messaging_api.TextMessage{Text: truncateRunes(text, maxTextRunes)},
		},
	})
	if err != nil {
		metrics.RepliesFailed.Inc()
		return fmt.Errorf("reply message: %w", err)
	}
	metrics.RepliesSent.Inc()
	return nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

var _ domain.ReplySender = (*LineSender)(nil)
