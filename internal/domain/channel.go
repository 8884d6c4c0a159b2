package domain

import "context"

// EventParser verifies a raw webhook body against its signature header and
// decodes it into events. It returns ErrInvalidSignature when verification fails.
type EventParser interface {
	Parse(body []byte, signature string) ([]Event, error)
}

// ReplySender delivers a text reply using the reply token issued with an event.
type ReplySender interface {
	Reply(ctx context.Context, replyToken, text string) error
}
