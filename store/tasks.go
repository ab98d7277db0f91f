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

// ScheduleKind names the recurrence policy of a task.
type ScheduleKind string

const (
	// ScheduleCron fires per a five-field cron expression (UTC).
	ScheduleCron ScheduleKind = "cron"

	// ScheduleInterval fires every fixed duration.
	ScheduleInterval ScheduleKind = "interval"

	// ScheduleOnce fires a single time, then the task is cancelled.
	ScheduleOnce ScheduleKind = "once"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskActive    TaskStatus = "active"
	TaskPaused    TaskStatus = "paused"
	TaskCancelled TaskStatus = "cancelled"
)

// ContextMode selects how a task run relates to the group's ongoing
// conversation.
type ContextMode string

const (
	// ContextShared runs the task inside the group's existing agent
	// session.
	ContextShared ContextMode = "shared"

	// ContextIsolated runs the task in a throwaway session.
	ContextIsolated ContextMode = "isolated"
)

// Task is one scheduled unit of work for a group's agent.
type Task struct {
	ID                  string
	GroupFolder         string
	Prompt              string
	Schedule            ScheduleKind
	ScheduleExpr        string
	Context             ContextMode
	Status              TaskStatus
	NextRun             time.Time
	CreatedAt           time.Time
	LastRun             time.Time
	LastResult          string
	RunCount            int64
	ConsecutiveFailures int
}

// CreateTask inserts a new task. The caller supplies the id (a UUID)
// and the first NextRun; CreatedAt defaults to now when zero.
func (s *Store) CreateTask(ctx context.Context, task Task) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: create task: %w", err)
	}
	defer s.pool.Put(conn)

	createdAt := task.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.clock.Now()
	}
	if task.Status == "" {
		task.Status = TaskActive
	}

	err = sqlitex.Execute(conn, `INSERT INTO tasks
		(id, group_folder, prompt, schedule_kind, schedule_expr, context_mode,
		 status, next_run, created_at, last_run, last_result, run_count,
		 consecutive_failures)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				task.ID,
				task.GroupFolder,
				task.Prompt,
				string(task.Schedule),
				task.ScheduleExpr,
				string(task.Context),
				string(task.Status),
				toUnixNano(task.NextRun),
				createdAt.UnixNano(),
				toUnixNano(task.LastRun),
				task.LastResult,
				task.RunCount,
				task.ConsecutiveFailures,
			},
		})
	if err != nil {
		return fmt.Errorf("store: create task %s: %w", task.ID, err)
	}
	return nil
}

// TaskByID returns the task with the given id, or (nil, nil) if none
// exists.
func (s *Store) TaskByID(ctx context.Context, id string) (*Task, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: get task: %w", err)
	}
	defer s.pool.Put(conn)

	var task *Task
	err = sqlitex.Execute(conn, taskColumns+"WHERE id = ?", &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			scanned := scanTask(stmt)
			task = &scanned
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: get task %s: %w", id, err)
	}
	return task, nil
}

// ListTasks returns tasks, optionally filtered to one group (empty
// folder means all), ordered by creation time.
func (s *Store) ListTasks(ctx context.Context, folder string) ([]Task, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: list tasks: %w", err)
	}
	defer s.pool.Put(conn)

	query := taskColumns
	var args []any
	if folder != "" {
		query += "WHERE group_folder = ? "
		args = append(args, folder)
	}
	query += "ORDER BY created_at"

	var tasks []Task
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			tasks = append(tasks, scanTask(stmt))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: list tasks: %w", err)
	}
	return tasks, nil
}

// DueTasks returns active tasks whose next run is at or before now,
// ordered by next run time.
func (s *Store) DueTasks(ctx context.Context, now time.Time) ([]Task, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: due tasks: %w", err)
	}
	defer s.pool.Put(conn)

	var tasks []Task
	err = sqlitex.Execute(conn,
		taskColumns+"WHERE status = ? AND next_run > 0 AND next_run <= ? ORDER BY next_run",
		&sqlitex.ExecOptions{
			Args: []any{string(TaskActive), now.UnixNano()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				tasks = append(tasks, scanTask(stmt))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: due tasks: %w", err)
	}
	return tasks, nil
}

// SetTaskStatus transitions a task's lifecycle state. The operation is
// idempotent; setting the current status is a no-op. Returns false if
// the task does not exist.
func (s *Store) SetTaskStatus(ctx context.Context, id string, status TaskStatus) (bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, fmt.Errorf("store: set task status: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"UPDATE tasks SET status = ? WHERE id = ?",
		&sqlitex.ExecOptions{Args: []any{string(status), id}})
	if err != nil {
		return false, fmt.Errorf("store: set task %s status: %w", id, err)
	}
	return conn.Changes() > 0, nil
}

// AdvanceTask moves a task's next scheduled time forward (zero means
// no future run) and optionally transitions its status. Used at
// dispatch time so a slow run is never dispatched twice.
func (s *Store) AdvanceTask(ctx context.Context, id string, nextRun time.Time, status TaskStatus) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: advance task: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"UPDATE tasks SET next_run = ?, status = ? WHERE id = ?",
		&sqlitex.ExecOptions{Args: []any{toUnixNano(nextRun), string(status), id}})
	if err != nil {
		return fmt.Errorf("store: advance task %s: %w", id, err)
	}
	return nil
}

// RecordTaskRun updates a task after one firing: the run outcome, the
// next scheduled time (zero means no future run), and the failure
// streak. The whole update is a single statement.
func (s *Store) RecordTaskRun(ctx context.Context, id string, ranAt time.Time, result string, nextRun time.Time, status TaskStatus, consecutiveFailures int) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: record task run: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `UPDATE tasks SET
			last_run = ?,
			last_result = ?,
			next_run = ?,
			status = ?,
			run_count = run_count + 1,
			consecutive_failures = ?
		WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{
				ranAt.UnixNano(),
				result,
				toUnixNano(nextRun),
				string(status),
				consecutiveFailures,
				id,
			},
		})
	if err != nil {
		return fmt.Errorf("store: record task %s run: %w", id, err)
	}
	return nil
}

const taskColumns = "SELECT id, group_folder, prompt, schedule_kind, schedule_expr, " +
	"context_mode, status, next_run, created_at, last_run, last_result, " +
	"run_count, consecutive_failures FROM tasks "

func scanTask(stmt *sqlite.Stmt) Task {
	return Task{
		ID:                  stmt.ColumnText(0),
		GroupFolder:         stmt.ColumnText(1),
		Prompt:              stmt.ColumnText(2),
		Schedule:            ScheduleKind(stmt.ColumnText(3)),
		ScheduleExpr:        stmt.ColumnText(4),
		Context:             ContextMode(stmt.ColumnText(5)),
		Status:              TaskStatus(stmt.ColumnText(6)),
		NextRun:             fromUnixNano(stmt.ColumnInt64(7)),
		CreatedAt:           fromUnixNano(stmt.ColumnInt64(8)),
		LastRun:             fromUnixNano(stmt.ColumnInt64(9)),
		LastResult:          stmt.ColumnText(10),
		RunCount:            stmt.ColumnInt64(11),
		ConsecutiveFailures: stmt.ColumnInt(12),
	}
}
