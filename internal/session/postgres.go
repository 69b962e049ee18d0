package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"netopsbot/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS session_state (
	scope       TEXT PRIMARY KEY,
	protocol    TEXT NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Postgres shares the sticky protocol between bot instances.
type Postgres struct {
	pool   *pgxpool.Pool
	scope  string
	logger *slog.Logger
}

// NewPostgres connects to url and ensures the schema exists.
func NewPostgres(ctx context.Context, url, scope string, logger *slog.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	return &Postgres{pool: pool, scope: scope, logger: logger}, nil
}

func (p *Postgres) LastProtocol(ctx context.Context) (domain.Protocol, error) {
	var proto string
	err := p.pool.QueryRow(ctx,
		`SELECT protocol FROM session_state WHERE scope = $1`, p.scope,
	).Scan(&proto)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ProtocolNone, nil
	}
	if err != nil {
		return domain.ProtocolNone, err
	}
	return domain.Protocol(proto), nil
}

func (p *Postgres) SetLastProtocol(ctx context.Context, proto domain.Protocol) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO session_state (scope, protocol, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (scope) DO UPDATE SET protocol = EXCLUDED.protocol, updated_at = now()`,
		p.scope, string(proto),
	)
	if err != nil {
		return err
	}
	p.logger.Debug("sticky protocol stored", "scope", p.scope, "protocol", proto)
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
