package session

import (
	"context"
	"fmt"
	"log/slog"

	"netopsbot/internal/config"
	"netopsbot/internal/domain"
)

// Open builds the store selected by cfg.Backend, scoped to one device.
func Open(ctx context.Context, cfg config.SessionConfig, scope string, logger *slog.Logger) (domain.SessionStore, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		return NewSQLite(cfg.DBPath, scope, logger)
	case "postgres":
		return NewPostgres(ctx, cfg.PostgresURL, scope, logger)
	default:
		return nil, fmt.Errorf("unknown session backend: %s", cfg.Backend)
	}
}
