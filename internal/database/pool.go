package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rickgao/wsclient/internal/config"
)

// Schema is the DDL for the recorder tables.
const Schema = `
CREATE TABLE IF NOT EXISTS ws_messages (
	id          BIGSERIAL PRIMARY KEY,
	conn_id     TEXT        NOT NULL,
	received_at TIMESTAMPTZ NOT NULL,
	payload     JSONB       NOT NULL
);
CREATE INDEX IF NOT EXISTS ws_messages_received_at_idx ON ws_messages (received_at);

CREATE TABLE IF NOT EXISTS ws_events (
	id      BIGSERIAL PRIMARY KEY,
	conn_id TEXT        NOT NULL DEFAULT '',
	kind    TEXT        NOT NULL,
	status  TEXT        NOT NULL DEFAULT '',
	detail  TEXT        NOT NULL DEFAULT '',
	at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS ws_events_at_idx ON ws_events (at);
`

// Execer runs a statement. Satisfied by *pgxpool.Pool and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Connect creates a connection pool and verifies it with a ping.
func Connect(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	connStr := BuildConnString(cfg)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	poolCfg.MinConns = int32(cfg.MinConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// EnsureSchema creates the recorder tables if they do not exist.
func EnsureSchema(ctx context.Context, db Execer) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
