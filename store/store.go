// Copyright 2026 The NanoClaw Authors
// SPDX-License-Identifier: Apache-2.0

// Package store provides SQLite-backed persistence for the orchestrator:
// the group registry, per-group agent sessions, scheduled tasks, and the
// message log. One database file holds everything; the schema is created
// on connect.
package store

import (
	"fmt"
	"io"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/qwibitai/nanoclaw-sub016/lib/clock"
	"github.com/qwibitai/nanoclaw-sub016/lib/sqlitepool"
)

// Store is the orchestrator database. Safe for concurrent use; each
// method borrows a pooled connection for its duration.
type Store struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

// Config holds the parameters for opening a store.
type Config struct {
	// Path is the filesystem path to the SQLite database file. The
	// parent directory must exist.
	Path string

	// PoolSize is the number of connections in the pool. Defaults to
	// 4 if zero or negative.
	PoolSize int

	// Clock provides timestamps for created/updated columns.
	Clock clock.Clock

	// Logger receives operational messages. Nil discards.
	Logger *slog.Logger
}

const schema = `
	CREATE TABLE IF NOT EXISTS groups (
		folder        TEXT PRIMARY KEY,
		channel       TEXT NOT NULL,
		chat_id       TEXT NOT NULL,
		name          TEXT NOT NULL,
		is_main       INTEGER NOT NULL DEFAULT 0,
		image         TEXT NOT NULL DEFAULT '',
		mounts        TEXT NOT NULL DEFAULT '[]',
		added_at      INTEGER NOT NULL,
		last_agent_at INTEGER NOT NULL DEFAULT 0
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_groups_chat ON groups(channel, chat_id);

	CREATE TABLE IF NOT EXISTS sessions (
		group_folder TEXT PRIMARY KEY,
		session_id   TEXT NOT NULL,
		updated_at   INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id                   TEXT PRIMARY KEY,
		group_folder         TEXT NOT NULL,
		prompt               TEXT NOT NULL,
		schedule_kind        TEXT NOT NULL,
		schedule_expr        TEXT NOT NULL,
		context_mode         TEXT NOT NULL,
		status               TEXT NOT NULL,
		next_run             INTEGER NOT NULL,
		created_at           INTEGER NOT NULL,
		last_run             INTEGER NOT NULL DEFAULT 0,
		last_result          TEXT NOT NULL DEFAULT '',
		run_count            INTEGER NOT NULL DEFAULT 0,
		consecutive_failures INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks(status, next_run);
	CREATE INDEX IF NOT EXISTS idx_tasks_group ON tasks(group_folder);

	CREATE TABLE IF NOT EXISTS messages (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		group_folder TEXT NOT NULL,
		sender       TEXT NOT NULL,
		content      TEXT NOT NULL,
		sent_at      INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_group_time ON messages(group_folder, sent_at);
`

// Open opens (creating if needed) the orchestrator database.
func Open(cfg Config) (*Store, error) {
	if cfg.Clock == nil {
		return nil, fmt.Errorf("store: Clock is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	return &Store{pool: pool, clock: cfg.Clock, logger: logger}, nil
}

// Close closes the underlying connection pool. Blocks until all
// borrowed connections are returned.
func (s *Store) Close() error {
	return s.pool.Close()
}
