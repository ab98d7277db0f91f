// Copyright 2026 The NanoClaw Authors
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/qwibitai/nanoclaw-sub016/lib/clock"
	"github.com/qwibitai/nanoclaw-sub016/lib/cron"
	"github.com/qwibitai/nanoclaw-sub016/store"
)

// DefaultTickInterval is how often due tasks are checked.
const DefaultTickInterval = 30 * time.Second

// DefaultMaxConsecutiveFailures is the failure streak that pauses a
// task automatically.
const DefaultMaxConsecutiveFailures = 3

// ErrTaskNotFound reports an operation on a task id that does not
// exist in the store.
var ErrTaskNotFound = errors.New("scheduler: task not found")

// Config holds the parameters for creating a Scheduler.
type Config struct {
	// Store persists task records.
	Store *store.Store

	// Clock drives the tick loop.
	Clock clock.Clock

	// Logger receives operational messages. Nil discards.
	Logger *slog.Logger

	// TickInterval is how often due tasks are checked. Defaults to
	// DefaultTickInterval.
	TickInterval time.Duration

	// MaxConsecutiveFailures pauses a task after this many failed runs
	// in a row. Defaults to DefaultMaxConsecutiveFailures.
	MaxConsecutiveFailures int

	// Dispatch enqueues one due task for execution. A dispatch error
	// counts as a failed run.
	Dispatch func(ctx context.Context, task store.Task) error
}

// Scheduler drives the task tick loop.
type Scheduler struct {
	store       *store.Store
	clock       clock.Clock
	logger      *slog.Logger
	interval    time.Duration
	maxFailures int
	dispatch    func(ctx context.Context, task store.Task) error

	ticks atomic.Uint64
}

// New creates a scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("scheduler: Store is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("scheduler: Clock is required")
	}
	if cfg.Dispatch == nil {
		return nil, fmt.Errorf("scheduler: Dispatch is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	interval := cfg.TickInterval
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	maxFailures := cfg.MaxConsecutiveFailures
	if maxFailures <= 0 {
		maxFailures = DefaultMaxConsecutiveFailures
	}
	return &Scheduler{
		store:       cfg.Store,
		clock:       cfg.Clock,
		logger:      logger,
		interval:    interval,
		maxFailures: maxFailures,
		dispatch:    cfg.Dispatch,
	}, nil
}

// Run ticks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.logger.Error("scheduler tick failed", "error", err)
			}
		}
	}
}

// Ticks reports how many tick passes have run.
func (s *Scheduler) Ticks() uint64 { return s.ticks.Load() }

// Tick dispatches every due task once and advances its schedule.
func (s *Scheduler) Tick(ctx context.Context) error {
	s.ticks.Add(1)
	now := s.clock.Now().UTC()

	due, err := s.store.DueTasks(ctx, now)
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	for _, task := range due {
		next, status, nerr := nextAfterFire(task, now)
		if nerr != nil {
			// The stored expression no longer parses. Pause the task
			// rather than erroring every tick.
			s.logger.Error("pausing task with invalid schedule",
				"task", task.ID,
				"expr", task.ScheduleExpr,
				"error", nerr,
			)
			if aerr := s.store.AdvanceTask(ctx, task.ID, time.Time{}, store.TaskPaused); aerr != nil {
				s.logger.Error("advancing task failed", "task", task.ID, "error", aerr)
			}
			continue
		}
		if aerr := s.store.AdvanceTask(ctx, task.ID, next, status); aerr != nil {
			s.logger.Error("advancing task failed", "task", task.ID, "error", aerr)
			continue
		}
		s.logger.Info("dispatching task",
			"task", task.ID,
			"group", task.GroupFolder,
			"schedule", string(task.Schedule),
		)
		if derr := s.dispatch(ctx, task); derr != nil {
			s.logger.Error("dispatching task failed", "task", task.ID, "error", derr)
			if rerr := s.RecordResult(ctx, task.ID, false, fmt.Sprintf("dispatch: %v", derr)); rerr != nil {
				s.logger.Error("recording dispatch failure failed", "task", task.ID, "error", rerr)
			}
		}
	}
	return nil
}

// RecordResult reports the outcome of a dispatched run. A success
// clears the failure streak; a failure extends it and pauses the task
// once the streak reaches the configured maximum.
func (s *Scheduler) RecordResult(ctx context.Context, id string, ok bool, result string) error {
	task, err := s.store.TaskByID(ctx, id)
	if err != nil {
		return fmt.Errorf("scheduler: record result: %w", err)
	}
	if task == nil {
		return fmt.Errorf("scheduler: record result for %s: %w", id, ErrTaskNotFound)
	}

	failures := 0
	status := task.Status
	next := task.NextRun
	if !ok {
		failures = task.ConsecutiveFailures + 1
		if failures >= s.maxFailures && status == store.TaskActive {
			status = store.TaskPaused
			result = fmt.Sprintf("auto-paused after %d consecutive failures: %s", failures, result)
			s.logger.Warn("auto-pausing task",
				"task", task.ID,
				"group", task.GroupFolder,
				"failures", failures,
			)
		}
	}

	now := s.clock.Now().UTC()
	if err := s.store.RecordTaskRun(ctx, id, now, result, next, status, failures); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	return nil
}

// Pause stops future firings of a task. Idempotent; cancelled tasks
// stay cancelled.
func (s *Scheduler) Pause(ctx context.Context, id string) error {
	task, err := s.store.TaskByID(ctx, id)
	if err != nil {
		return fmt.Errorf("scheduler: pause: %w", err)
	}
	if task == nil {
		return fmt.Errorf("scheduler: pause %s: %w", id, ErrTaskNotFound)
	}
	if task.Status == store.TaskCancelled || task.Status == store.TaskPaused {
		return nil
	}
	if _, err := s.store.SetTaskStatus(ctx, id, store.TaskPaused); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	return nil
}

// Resume reactivates a paused task and recomputes its next run from
// now. Idempotent; cancelled tasks stay cancelled.
func (s *Scheduler) Resume(ctx context.Context, id string) error {
	task, err := s.store.TaskByID(ctx, id)
	if err != nil {
		return fmt.Errorf("scheduler: resume: %w", err)
	}
	if task == nil {
		return fmt.Errorf("scheduler: resume %s: %w", id, ErrTaskNotFound)
	}
	if task.Status == store.TaskCancelled || task.Status == store.TaskActive {
		return nil
	}

	now := s.clock.Now().UTC()
	next, err := nextFrom(task.Schedule, task.ScheduleExpr, task.NextRun, now)
	if err != nil {
		return fmt.Errorf("scheduler: resume %s: %w", id, err)
	}
	if err := s.store.AdvanceTask(ctx, id, next, store.TaskActive); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	return nil
}

// Cancel permanently excludes a task from scheduling. Idempotent. The
// record and its run history are kept.
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	changed, err := s.store.SetTaskStatus(ctx, id, store.TaskCancelled)
	if err != nil {
		return fmt.Errorf("scheduler: cancel: %w", err)
	}
	if !changed {
		return fmt.Errorf("scheduler: cancel %s: %w", id, ErrTaskNotFound)
	}
	return nil
}

// FirstRun computes the initial next-run time for a newly created
// task and validates its schedule expression.
func FirstRun(kind store.ScheduleKind, expr string, now time.Time) (time.Time, error) {
	return nextFrom(kind, expr, time.Time{}, now.UTC())
}

// nextAfterFire computes a task's schedule advance at dispatch time.
func nextAfterFire(task store.Task, now time.Time) (time.Time, store.TaskStatus, error) {
	switch task.Schedule {
	case store.ScheduleOnce:
		return time.Time{}, store.TaskCancelled, nil
	default:
		next, err := nextFrom(task.Schedule, task.ScheduleExpr, time.Time{}, now)
		if err != nil {
			return time.Time{}, "", err
		}
		return next, store.TaskActive, nil
	}
}

// nextFrom computes the next firing time for a schedule. For one-shot
// tasks, prior is the stored firing time: a time still in the future
// is kept, a past one fires on the next tick.
func nextFrom(kind store.ScheduleKind, expr string, prior, now time.Time) (time.Time, error) {
	switch kind {
	case store.ScheduleCron:
		schedule, err := cron.Parse(expr)
		if err != nil {
			return time.Time{}, fmt.Errorf("cron %q: %w", expr, err)
		}
		next, err := schedule.Next(now)
		if err != nil {
			return time.Time{}, fmt.Errorf("cron %q: %w", expr, err)
		}
		return next, nil
	case store.ScheduleInterval:
		interval, err := time.ParseDuration(expr)
		if err != nil {
			return time.Time{}, fmt.Errorf("interval %q: %w", expr, err)
		}
		if interval <= 0 {
			return time.Time{}, fmt.Errorf("interval %q: must be positive", expr)
		}
		return now.Add(interval), nil
	case store.ScheduleOnce:
		if !prior.IsZero() {
			if prior.After(now) {
				return prior, nil
			}
			return now, nil
		}
		at, err := time.Parse(time.RFC3339, expr)
		if err != nil {
			return time.Time{}, fmt.Errorf("one-shot time %q: %w", expr, err)
		}
		return at.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unknown schedule kind %q", kind)
	}
}
