// Package session implements the sticky-protocol store.
package session

import (
	"context"
	"sync"

	"netopsbot/internal/domain"
)

// Memory keeps the sticky protocol for the lifetime of the process.
type Memory struct {
	mu    sync.Mutex
	proto domain.Protocol
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) LastProtocol(ctx context.Context) (domain.Protocol, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.proto, nil
}

func (m *Memory) SetLastProtocol(ctx context.Context, p domain.Protocol) error {
	m.mu.Lock()
	m.proto = p
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }
