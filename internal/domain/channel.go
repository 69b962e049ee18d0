package domain

import "context"

// Transport is the chat side of the router: a source of raw messages and
// a sink for normalized replies (Webex, Telegram, Slack, Discord, Matrix, CLI).
type Transport interface {
	Name() string
	Open(ctx context.Context) error
	// Receive blocks until the next message arrives or ctx is done.
	Receive(ctx context.Context) (RawMessage, error)
	// Send posts text and at most one attachment. A non-nil error means the
	// feedback channel itself is broken.
	Send(ctx context.Context, roomID string, resp ChatResponse) error
	Close() error
}
