package channel

import (
	"errors"
	"testing"
	"time"

	"linebot/internal/domain"
)

func TestLineParser_DecodesTextEvent(t *testing.T) {
	body := textPayload("01HEVT", "rt-1", "What is the capital of France?")
	events, err := NewLineParser(testSecret).Parse([]byte(body), sign(body))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev.Kind != domain.EventText || ev.Text != "What is the capital of France?" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.ReplyToken != "rt-1" || ev.UserID != "U123" || ev.WebhookEventID != "01HEVT" {
		t.Fatalf("metadata not decoded: %+v", ev)
	}
	if !ev.Timestamp.Equal(time.UnixMilli(1700000000000)) {
		t.Fatalf("unexpected timestamp %v", ev.Timestamp)
	}
}

func TestLineParser_RejectsBadSignature(t *testing.T) {
	body := textPayload("e", "rt", "hi")
	p := NewLineParser(testSecret)

	for name, sig := range map[string]string{
		"empty":    "",
		"garbage":  "not-base64!!",
		"wrongKey": "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=",
	} {
		if _, err := p.Parse([]byte(body), sig); !errors.Is(err, domain.ErrInvalidSignature) {
			t.Errorf("%s: expected ErrInvalidSignature, got %v", name, err)
		}
	}
}

func TestLineParser_SignedGarbage(t *testing.T) {
	_, err := NewLineParser(testSecret).Parse([]byte("{"), sign("{"))
	if !errors.Is(err, domain.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestLineParser_Redelivery(t *testing.T) {
	body := `{"destination":"Ubot","events":[{"type":"message","mode":"active","timestamp":1,` +
		`"source":{"type":"group","groupId":"G1","userId":"U9"},"webhookEventId":"r1",` +
		`"deliveryContext":{"isRedelivery":true},"replyToken":"rt",` +
		`"message":{"type":"image","id":"i1","contentProvider":{"type":"line"}}}]}`
	events, err := NewLineParser(testSecret).Parse([]byte(body), sign(body))
	if err != nil {
		t.Fatal(err)
	}
	ev := events[0]
	if ev.Kind != domain.EventMessage || ev.MessageType != "image" {
		t.Fatalf("expected image message, got %+v", ev)
	}
	if !ev.Redelivery || ev.UserID != "U9" {
		t.Fatalf("expected redelivered group event from U9, got %+v", ev)
	}
}

func TestLineParser_UnknownEventType(t *testing.T) {
	body := `{"destination":"Ubot","events":[{"type":"somethingNew","mode":"active","timestamp":1}]}`
	events, err := NewLineParser(testSecret).Parse([]byte(body), sign(body))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Kind != domain.EventUnknown || events[0].CanReply() {
		t.Fatalf("unexpected events: %+v", events)
	}
}
