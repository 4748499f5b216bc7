package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool открывает пул соединений и сразу проверяет доступность базы.
func NewPool(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	cfg.MaxConns = 25
	cfg.MaxConnLifetime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: database unreachable: %w", err)
	}
	return pool, nil
}

// Schema — DDL, который применяет `vault migrate`.
const Schema = `
CREATE TABLE IF NOT EXISTS vault_events (
	id           UUID PRIMARY KEY,
	event_type   TEXT        NOT NULL,
	agent_id     TEXT        NOT NULL,
	actor        TEXT        NOT NULL,
	amount       NUMERIC(78, 0),
	block_reason TEXT,
	occurred_at  BIGINT      NOT NULL,
	payload      JSONB       NOT NULL
);
CREATE INDEX IF NOT EXISTS vault_events_agent_idx ON vault_events (agent_id, occurred_at DESC);

CREATE TABLE IF NOT EXISTS operators (
	id            UUID PRIMARY KEY,
	username      TEXT UNIQUE NOT NULL,
	address       TEXT        NOT NULL,
	password_hash TEXT        NOT NULL,
	scopes        JSONB       NOT NULL DEFAULT '{}',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// Migrate применяет Schema. Идемпотентно.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}
