// Copyright 2026 The NanoClaw Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// GroupMount is one per-group additional mount request. It widens
// nothing by itself: the mount policy still checks it against the
// global allowlist and blocklist.
type GroupMount struct {
	// HostPath is the absolute host directory to expose.
	HostPath string `json:"host_path"`

	// Writable requests read-write access. Granted only when the
	// covering allowlist root is itself writable.
	Writable bool `json:"writable,omitempty"`
}

// Group is one registered chat group. The folder is the stable
// identity: it names the workspace directory, the IPC subtree, and
// rows in every other table.
type Group struct {
	// Folder is the filesystem-safe unique identifier.
	Folder string

	// Channel names the adapter the group lives on ("whatsapp",
	// "telegram", ...).
	Channel string

	// ChatID is the channel-native conversation identifier.
	ChatID string

	// Name is the trigger name mentioned in chat to address the
	// assistant.
	Name string

	// IsMain marks the privileged operator group.
	IsMain bool

	// Image overrides the default container image when non-empty.
	Image string

	// Mounts are additional mount requests beyond the workspace.
	Mounts []GroupMount

	// AddedAt is when the group was registered.
	AddedAt time.Time

	// LastAgentAt is the timestamp of the last message the agent has
	// seen. Messages after it are pending context for the next run.
	LastAgentAt time.Time
}

// UpsertGroup inserts or replaces a group record. The folder is the
// conflict key; registration of an existing folder updates the record
// in place.
func (s *Store) UpsertGroup(ctx context.Context, group Group) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: upsert group: %w", err)
	}
	defer s.pool.Put(conn)

	mountsJSON, err := json.Marshal(group.Mounts)
	if err != nil {
		return fmt.Errorf("store: marshal group mounts: %w", err)
	}

	addedAt := group.AddedAt
	if addedAt.IsZero() {
		addedAt = s.clock.Now()
	}

	err = sqlitex.Execute(conn, `INSERT INTO groups
		(folder, channel, chat_id, name, is_main, image, mounts, added_at, last_agent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(folder) DO UPDATE SET
			channel = excluded.channel,
			chat_id = excluded.chat_id,
			name = excluded.name,
			is_main = excluded.is_main,
			image = excluded.image,
			mounts = excluded.mounts`,
		&sqlitex.ExecOptions{
			Args: []any{
				group.Folder,
				group.Channel,
				group.ChatID,
				group.Name,
				boolInt(group.IsMain),
				group.Image,
				string(mountsJSON),
				addedAt.UnixNano(),
				toUnixNano(group.LastAgentAt),
			},
		})
	if err != nil {
		return fmt.Errorf("store: upsert group %s: %w", group.Folder, err)
	}
	return nil
}

// GroupByFolder returns the group with the given folder, or
// (nil, nil) if none exists.
func (s *Store) GroupByFolder(ctx context.Context, folder string) (*Group, error) {
	return s.queryOneGroup(ctx, "WHERE folder = ?", folder)
}

// GroupByChatID returns the group bound to a channel-native chat id,
// or (nil, nil) if none exists.
func (s *Store) GroupByChatID(ctx context.Context, channel, chatID string) (*Group, error) {
	return s.queryOneGroup(ctx, "WHERE channel = ? AND chat_id = ?", channel, chatID)
}

// MainGroup returns the privileged group, or (nil, nil) if none is
// registered.
func (s *Store) MainGroup(ctx context.Context) (*Group, error) {
	return s.queryOneGroup(ctx, "WHERE is_main = 1")
}

// ListGroups returns all registered groups ordered by folder.
func (s *Store) ListGroups(ctx context.Context) ([]Group, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: list groups: %w", err)
	}
	defer s.pool.Put(conn)

	var groups []Group
	err = sqlitex.Execute(conn, groupColumns+" ORDER BY folder", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			group, err := scanGroup(stmt)
			if err != nil {
				return err
			}
			groups = append(groups, group)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: list groups: %w", err)
	}
	return groups, nil
}

// DeleteGroup removes a group and its dependent rows (session, tasks,
// messages) in one transaction. Deleting an unknown folder is a no-op.
func (s *Store) DeleteGroup(ctx context.Context, folder string) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: delete group: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("store: delete group %s: %w", folder, err)
	}
	defer endTransaction(&err)

	statements := []string{
		"DELETE FROM messages WHERE group_folder = ?",
		"DELETE FROM tasks WHERE group_folder = ?",
		"DELETE FROM sessions WHERE group_folder = ?",
		"DELETE FROM groups WHERE folder = ?",
	}
	for _, statement := range statements {
		if err = sqlitex.Execute(conn, statement, &sqlitex.ExecOptions{
			Args: []any{folder},
		}); err != nil {
			return fmt.Errorf("store: delete group %s: %w", folder, err)
		}
	}
	return nil
}

// SetLastAgentAt records the newest message timestamp the agent has
// consumed for a group.
func (s *Store) SetLastAgentAt(ctx context.Context, folder string, at time.Time) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: set last agent time: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"UPDATE groups SET last_agent_at = ? WHERE folder = ?",
		&sqlitex.ExecOptions{Args: []any{toUnixNano(at), folder}})
	if err != nil {
		return fmt.Errorf("store: set last agent time for %s: %w", folder, err)
	}
	return nil
}

const groupColumns = "SELECT folder, channel, chat_id, name, is_main, image, mounts, added_at, last_agent_at FROM groups "

func (s *Store) queryOneGroup(ctx context.Context, where string, args ...any) (*Group, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: query group: %w", err)
	}
	defer s.pool.Put(conn)

	var group *Group
	err = sqlitex.Execute(conn, groupColumns+where, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			scanned, err := scanGroup(stmt)
			if err != nil {
				return err
			}
			group = &scanned
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: query group: %w", err)
	}
	return group, nil
}

func scanGroup(stmt *sqlite.Stmt) (Group, error) {
	group := Group{
		Folder:  stmt.ColumnText(0),
		Channel: stmt.ColumnText(1),
		ChatID:  stmt.ColumnText(2),
		Name:    stmt.ColumnText(3),
		IsMain:  stmt.ColumnInt(4) != 0,
		Image:   stmt.ColumnText(5),
	}
	if mountsJSON := stmt.ColumnText(6); mountsJSON != "" {
		if err := json.Unmarshal([]byte(mountsJSON), &group.Mounts); err != nil {
			return group, fmt.Errorf("unmarshal mounts for %s: %w", group.Folder, err)
		}
	}
	group.AddedAt = fromUnixNano(stmt.ColumnInt64(7))
	group.LastAgentAt = fromUnixNano(stmt.ColumnInt64(8))
	return group, nil
}

func boolInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

// toUnixNano converts a time.Time to its stored form. The zero time
// maps to 0 so that "never" survives a round trip.
func toUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

// fromUnixNano converts a stored nanosecond timestamp back to a
// time.Time, preserving the zero value.
func fromUnixNano(nanos int64) time.Time {
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos).UTC()
}
