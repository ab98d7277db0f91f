// Copyright 2026 The NanoClaw Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Session returns the persisted agent session identifier for a group,
// or "" if the group has no session yet (a fresh conversation).
func (s *Store) Session(ctx context.Context, folder string) (string, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return "", fmt.Errorf("store: get session: %w", err)
	}
	defer s.pool.Put(conn)

	var sessionID string
	err = sqlitex.Execute(conn,
		"SELECT session_id FROM sessions WHERE group_folder = ?",
		&sqlitex.ExecOptions{
			Args: []any{folder},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				sessionID = stmt.ColumnText(0)
				return nil
			},
		})
	if err != nil {
		return "", fmt.Errorf("store: get session for %s: %w", folder, err)
	}
	return sessionID, nil
}

// SetSession records the agent session identifier for a group. The
// single-statement UPSERT replaces the row atomically: readers see
// either the previous token or the new one, never a partial write.
func (s *Store) SetSession(ctx context.Context, folder, sessionID string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: set session: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `INSERT INTO sessions
		(group_folder, session_id, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(group_folder) DO UPDATE SET
			session_id = excluded.session_id,
			updated_at = excluded.updated_at`,
		&sqlitex.ExecOptions{
			Args: []any{folder, sessionID, s.clock.Now().UnixNano()},
		})
	if err != nil {
		return fmt.Errorf("store: set session for %s: %w", folder, err)
	}
	return nil
}

// ClearSession removes a group's session so the next run starts a
// fresh conversation. Clearing an absent session is a no-op.
func (s *Store) ClearSession(ctx context.Context, folder string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: clear session: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"DELETE FROM sessions WHERE group_folder = ?",
		&sqlitex.ExecOptions{Args: []any{folder}})
	if err != nil {
		return fmt.Errorf("store: clear session for %s: %w", folder, err)
	}
	return nil
}
