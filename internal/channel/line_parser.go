package channel

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"

	"linebot/internal/domain"
)

// LineParser verifies LINE webhook signatures and decodes callback
// envelopes into domain events.
type LineParser struct {
	channelSecret string
}

func NewLineParser(channelSecret string) *LineParser {
	return &LineParser{channelSecret: channelSecret}
}

// Parse checks signature against body and decodes the events it carries.
func (p *LineParser) Parse(body []byte, signature string) ([]domain.Event, error) {
	if signature == "" || !webhook.ValidateSignature(p.channelSecret, signature, body) {
		return nil, domain.ErrInvalidSignature
	}

	var cb webhook.CallbackRequest
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	events := make([]domain.Event, 0, len(cb.Events))
	for _, e := range cb.Events {
		events = append(events, convertEvent(e))
	}
	return events, nil
}

func convertEvent(e webhook.EventInterface) domain.Event {
	switch ev := e.(type) {
	case webhook.MessageEvent:
		out := baseEvent(ev.Source, ev.WebhookEventId, ev.DeliveryContext, ev.Timestamp)
		out.ReplyToken = ev.ReplyToken
		if text, ok := ev.Message.(webhook.TextMessageContent); ok {
			out.Kind = domain.EventText
			out.Text = text.Text
		} else {
			out.Kind = domain.EventMessage
			out.MessageType = messageType(ev.Message)
		}
		return out

	case webhook.FollowEvent:
		out := baseEvent(ev.Source, ev.WebhookEventId, ev.DeliveryContext, ev.Timestamp)
		out.Kind = domain.EventFollow
		out.ReplyToken = ev.ReplyToken
		return out

	case webhook.UnfollowEvent:
		out := baseEvent(ev.Source, ev.WebhookEventId, ev.DeliveryContext, ev.Timestamp)
		out.Kind = domain.EventUnfollow
		return out

	case webhook.PostbackEvent:
		out := baseEvent(ev.Source, ev.WebhookEventId, ev.DeliveryContext, ev.Timestamp)
		out.Kind = domain.EventPostback
		out.ReplyToken = ev.ReplyToken
		if ev.Postback != nil {
			out.PostbackData = ev.Postback.Data
		}
		return out

	default:
		return domain.Event{Kind: domain.EventUnknown}
	}
}

func baseEvent(src webhook.SourceInterface, eventID string, dc *webhook.DeliveryContext, ts int64) domain.Event {
	ev := domain.Event{
		UserID:         sourceUserID(src),
		WebhookEventID: eventID,
	}
	if dc != nil {
		ev.Redelivery = dc.IsRedelivery
	}
	if ts > 0 {
		ev.Timestamp = time.UnixMilli(ts)
	}
	return ev
}

func sourceUserID(src webhook.SourceInterface) string {
	switch s := src.(type) {
	case webhook.UserSource:
		return s.UserId
	case webhook.GroupSource:
		return s.UserId
	case webhook.RoomSource:
		return s.UserId
	}
	return ""
}

func messageType(m webhook.MessageContentInterface) string {
	switch m.(type) {
	case webhook.ImageMessageContent:
		return "image"
	case webhook.VideoMessageContent:
		return "video"
	case webhook.AudioMessageContent:
		return "audio"
	case webhook.FileMessageContent:
		return "file"
	case webhook.LocationMessageContent:
		return "location"
	case webhook.StickerMessageContent:
		return "sticker"
	}
	return "unknown"
}

var _ domain.EventParser = (*LineParser)(nil)
