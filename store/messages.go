// Copyright 2026 The NanoClaw Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Message is one inbound chat message logged for agent context.
type Message struct {
	GroupFolder string
	Sender      string
	Content     string
	SentAt      time.Time
}

// AppendMessage logs an inbound message for a group.
func (s *Store) AppendMessage(ctx context.Context, message Message) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: append message: %w", err)
	}
	defer s.pool.Put(conn)

	sentAt := message.SentAt
	if sentAt.IsZero() {
		sentAt = s.clock.Now()
	}

	err = sqlitex.Execute(conn, `INSERT INTO messages
		(group_folder, sender, content, sent_at) VALUES (?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				message.GroupFolder,
				message.Sender,
				message.Content,
				sentAt.UnixNano(),
			},
		})
	if err != nil {
		return fmt.Errorf("store: append message for %s: %w", message.GroupFolder, err)
	}
	return nil
}

// MessagesSince returns a group's messages strictly after the given
// time, oldest first. Used to assemble the pending context for the
// next agent run.
func (s *Store) MessagesSince(ctx context.Context, folder string, after time.Time) ([]Message, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: messages since: %w", err)
	}
	defer s.pool.Put(conn)

	var messages []Message
	err = sqlitex.Execute(conn, `SELECT group_folder, sender, content, sent_at
		FROM messages WHERE group_folder = ? AND sent_at > ? ORDER BY sent_at, id`,
		&sqlitex.ExecOptions{
			Args: []any{folder, toUnixNano(after)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				messages = append(messages, Message{
					GroupFolder: stmt.ColumnText(0),
					Sender:      stmt.ColumnText(1),
					Content:     stmt.ColumnText(2),
					SentAt:      fromUnixNano(stmt.ColumnInt64(3)),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: messages since for %s: %w", folder, err)
	}
	return messages, nil
}

// PruneMessages deletes a group's messages older than the cutoff.
// Called periodically so the log does not grow without bound.
func (s *Store) PruneMessages(ctx context.Context, folder string, before time.Time) (int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("store: prune messages: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"DELETE FROM messages WHERE group_folder = ? AND sent_at < ?",
		&sqlitex.ExecOptions{Args: []any{folder, toUnixNano(before)}})
	if err != nil {
		return 0, fmt.Errorf("store: prune messages for %s: %w", folder, err)
	}
	return conn.Changes(), nil
}
