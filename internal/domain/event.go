package domain

import "time"

// EventKind tags the variant carried by an Event.
type EventKind string

const (
	EventText     EventKind = "text"     // text message
	EventMessage  EventKind = "message"  // any non-text message (sticker, image, ...)
	EventFollow   EventKind = "follow"   // user added the bot as a friend
	EventUnfollow EventKind = "unfollow" // user blocked the bot
	EventPostback EventKind = "postback"
	EventUnknown  EventKind = "unknown"
)

// Event is a single webhook event decoded from a verified request.
// Only the fields relevant to Kind are populated.
type Event struct {
	Kind           EventKind
	ReplyToken     string // single-use, empty for kinds that cannot be replied to
	UserID         string
	Text           string // EventText
	MessageType    string // EventMessage: sticker, image, video, ...
	PostbackData   string // EventPostback
	WebhookEventID string
	Redelivery     bool
	Timestamp      time.Time
}

// CanReply reports whether the event carries a reply token.
func (e Event) CanReply() bool {
	return e.ReplyToken != ""
}
