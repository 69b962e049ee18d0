package domain

import (
	"context"
	"net/netip"
)

// BackendResult is the uniform envelope every adapter operation returns.
type BackendResult struct {
	Success        bool
	Message        string
	AttachmentPath string // optional; set by archive operations
}

// Ok builds a successful result.
func Ok(msg string) BackendResult {
	return BackendResult{Success: true, Message: msg}
}

// Failed builds a failed result whose message is safe to show in chat.
func Failed(msg string) BackendResult {
	return BackendResult{Success: false, Message: msg}
}

// ConfigBackend manages the loopback interface over a configuration protocol.
type ConfigBackend interface {
	Name() string
	Create(ctx context.Context, target netip.Addr) (BackendResult, error)
	Delete(ctx context.Context, target netip.Addr) (BackendResult, error)
	Enable(ctx context.Context, target netip.Addr) (BackendResult, error)
	Disable(ctx context.Context, target netip.Addr) (BackendResult, error)
	Status(ctx context.Context, target netip.Addr) (BackendResult, error)
}

// CLIBackend runs show commands over an interactive device session.
type CLIBackend interface {
	InterfaceSummary(ctx context.Context, target netip.Addr) (BackendResult, error)
	FetchBanner(ctx context.Context, target netip.Addr) (BackendResult, error)
}

// PlaybookBackend drives an external configuration playbook runner.
type PlaybookBackend interface {
	ArchiveConfig(ctx context.Context, target netip.Addr) (BackendResult, error)
	FetchBanner(ctx context.Context, target netip.Addr) (BackendResult, error)
	SetBanner(ctx context.Context, target netip.Addr, text string) (BackendResult, error)
}
