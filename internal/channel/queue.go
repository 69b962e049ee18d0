// Package channel implements the chat transports the command loop talks to.
// Event-driven transports push inbound messages into a queue that Receive
// drains one at a time; polling transports fetch on demand.
package channel

import (
	"context"
	"strings"

	"netopsbot/internal/domain"
)

const queueSize = 64

// queue buffers inbound messages from event callbacks until the loop asks
// for the next one. A fatal connection error is delivered through errs.
type queue struct {
	msgs chan domain.RawMessage
	errs chan error
}

func newQueue() *queue {
	return &queue{
		msgs: make(chan domain.RawMessage, queueSize),
		errs: make(chan error, 1),
	}
}

// push blocks while the buffer is full so no command is dropped.
func (q *queue) push(ctx context.Context, msg domain.RawMessage) bool {
	select {
	case q.msgs <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

// fail records the first fatal error; later ones are discarded.
func (q *queue) fail(err error) {
	select {
	case q.errs <- err:
	default:
	}
}

func (q *queue) receive(ctx context.Context) (domain.RawMessage, error) {
	select {
	case msg := <-q.msgs:
		return msg, nil
	default:
	}
	select {
	case msg := <-q.msgs:
		return msg, nil
	case err := <-q.errs:
		return domain.RawMessage{}, err
	case <-ctx.Done():
		return domain.RawMessage{}, ctx.Err()
	}
}

// splitMessage splits a message into chunks that fit within the max length,
// trying to split on newlines when possible.
func splitMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}

		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}

		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}
