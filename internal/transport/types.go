package transport

import "context"

// Message is one inbound text from a delivery-network participant.
//
// From is the participant's opaque stable identifier. For the Telegram
// adapter it is the decimal chat id; the core never interprets it.
type Message struct {
	From     string
	Username string
	Text     string
}

type Update struct {
	Message *Message
}

// Adapter is the delivery-network capability consumed by the core:
// an inbound stream of subscriber commands and a best-effort text send.
//
// SendText must not block indefinitely and must report failure as an error
// value; the caller treats every send as fire-and-forget per recipient.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to string, text string) error
}
