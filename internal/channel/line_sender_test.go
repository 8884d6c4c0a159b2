package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"
)

type capturedReply struct {
	ReplyToken string `json:"replyToken"`
	Messages   []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"messages"`
}

func newTestSender(t *testing.T, status int, got *capturedReply) *LineSender {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/bot/message/reply" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
		}
		if got != nil {
			json.NewDecoder(r.Body).Decode(got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status == http.StatusOK {
			w.Write([]byte(`{"sentMessages":[{"id":"1","quoteToken":"q"}]}`))
		} else {
			w.Write([]byte(`{"message":"Invalid reply token"}`))
		}
	}))
	t.Cleanup(srv.Close)

	s, err := NewLineSender(LineSenderConfig{
		AccessToken: "test-token",
		Endpoint:    srv.URL,
		HTTPClient:  srv.Client(),
		Logger:      testLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestLineSender_Reply(t *testing.T) {
	var got capturedReply
	s := newTestSender(t, http.StatusOK, &got)

	if err := s.Reply(context.Background(), "rt-1", "Paris."); err != nil {
		t.Fatalf("reply: %v", err)
	}
	if got.ReplyToken != "rt-1" || len(got.Messages) != 1 {
		t.Fatalf("unexpected request: %+v", got)
	}
	if got.Messages[0].Type != "text" || got.Messages[0].Text != "Paris." {
		t.Fatalf("unexpected message: %+v", got.Messages[0])
	}
}

func TestLineSender_TruncatesLongText(t *testing.T) {
	var got capturedReply
	s := newTestSender(t, http.StatusOK, &got)

	if err := s.Reply(context.Background(), "rt", strings.Repeat("字", 6000)); err != nil {
		t.Fatal(err)
	}
	if n := utf8.RuneCountInString(got.Messages[0].Text); n != maxTextRunes {
		t.Fatalf("expected %d runes, got %d", maxTextRunes, n)
	}
}

func TestLineSender_APIError(t *testing.T) {
	s := newTestSender(t, http.StatusBadRequest, nil)
	if err := s.Reply(context.Background(), "expired", "hi"); err == nil {
		t.Fatal("expected error for rejected reply")
	}
}

func TestLineSender_RejectsEmptyInput(t *testing.T) {
	s := newTestSender(t, http.StatusOK, nil)
	if err := s.Reply(context.Background(), "", "hi"); err == nil {
		t.Fatal("expected error for empty token")
	}
	if err := s.Reply(context.Background(), "rt", ""); err == nil {
		t.Fatal("expected error for empty text")
	}
}
