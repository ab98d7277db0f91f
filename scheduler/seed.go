// Copyright 2026 The NanoClaw Authors
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/tidwall/jsonc"

	"github.com/qwibitai/nanoclaw-sub016/store"
)

// SeedTask is one entry in a host-side seed file: a task definition
// authored by the operator rather than requested over IPC. Seed files
// are JSONC (JSON extended with // comments, /* block comments */, and
// trailing commas).
type SeedTask struct {
	Group    string `json:"group"`
	Prompt   string `json:"prompt"`
	Schedule string `json:"schedule"`
	Expr     string `json:"expr"`
	Context  string `json:"context,omitempty"`
}

// ParseSeed strips JSONC extensions from data and unmarshals the task
// list.
func ParseSeed(data []byte) ([]SeedTask, error) {
	stripped := jsonc.ToJSON(data)
	var tasks []SeedTask
	if err := json.Unmarshal(stripped, &tasks); err != nil {
		return nil, fmt.Errorf("scheduler: parsing seed file: %w", err)
	}
	return tasks, nil
}

// LoadSeedFile reads a JSONC seed file and creates any task not
// already present. A task with the same group, prompt, and expression
// as an existing non-cancelled task is skipped, so restarting the
// daemon does not duplicate seeds.
func (s *Scheduler) LoadSeedFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("scheduler: reading seed file: %w", err)
	}
	seeds, err := ParseSeed(data)
	if err != nil {
		return fmt.Errorf("scheduler: %s: %w", path, err)
	}

	now := s.clock.Now().UTC()
	for _, seed := range seeds {
		kind := store.ScheduleKind(seed.Schedule)
		switch kind {
		case store.ScheduleCron, store.ScheduleInterval, store.ScheduleOnce:
		default:
			return fmt.Errorf("scheduler: %s: unknown schedule kind %q", path, seed.Schedule)
		}
		mode := store.ContextMode(seed.Context)
		if mode == "" {
			mode = store.ContextIsolated
		}

		existing, err := s.store.ListTasks(ctx, seed.Group)
		if err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		duplicate := false
		for _, task := range existing {
			if task.Status != store.TaskCancelled &&
				task.Prompt == seed.Prompt &&
				task.ScheduleExpr == seed.Expr {
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}

		next, err := FirstRun(kind, seed.Expr, now)
		if err != nil {
			return fmt.Errorf("scheduler: %s: %w", path, err)
		}
		task := store.Task{
			ID:           uuid.NewString(),
			GroupFolder:  seed.Group,
			Prompt:       seed.Prompt,
			Schedule:     kind,
			ScheduleExpr: seed.Expr,
			Context:      mode,
			Status:       store.TaskActive,
			NextRun:      next,
		}
		if err := s.store.CreateTask(ctx, task); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		s.logger.Info("seeded task",
			"task", task.ID,
			"group", task.GroupFolder,
			"schedule", string(task.Schedule),
		)
	}
	return nil
}
