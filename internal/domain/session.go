package domain

import "context"

// SessionStore holds the sticky protocol: the last one an operator named
// explicitly. Only the parser reads or writes it.
type SessionStore interface {
	// LastProtocol returns ProtocolNone when nothing was selected yet.
	LastProtocol(ctx context.Context) (Protocol, error)
	SetLastProtocol(ctx context.Context, p Protocol) error
	Close() error
}
