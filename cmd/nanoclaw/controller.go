// Copyright 2026 The NanoClaw Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"time"

	"github.com/qwibitai/nanoclaw-sub016/admin"
	"github.com/qwibitai/nanoclaw-sub016/lib/version"
	"github.com/qwibitai/nanoclaw-sub016/store"
)

// The daemon implements admin.Controller directly; the admin server
// holds it through the interface.

func (d *daemon) Status(ctx context.Context) (admin.Status, error) {
	groups, err := d.store.ListGroups(ctx)
	if err != nil {
		return admin.Status{}, err
	}
	counters := d.manager.Counters()
	return admin.Status{
		Version:        version.Info(),
		UptimeSeconds:  int64(time.Since(d.startedAt).Seconds()),
		Groups:         len(groups),
		SchedulerTicks: d.scheduler.Ticks(),
		Completed:      counters.Completed,
		Retries:        counters.Retries,
		Failed:         counters.Failed,
		Rejected:       counters.Rejected,
	}, nil
}

func (d *daemon) ListGroups(ctx context.Context) ([]admin.GroupInfo, error) {
	groups, err := d.store.ListGroups(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]admin.GroupInfo, 0, len(groups))
	for _, group := range groups {
		info := admin.GroupInfo{
			Folder:  group.Folder,
			Channel: group.Channel,
			ChatID:  group.ChatID,
			Name:    group.Name,
			IsMain:  group.IsMain,
			Image:   group.Image,
			State:   d.manager.GroupState(group.Folder).String(),
		}
		if !group.LastAgentAt.IsZero() {
			info.LastAgentAt = group.LastAgentAt.UnixNano()
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (d *daemon) RegisterGroup(ctx context.Context, spec admin.GroupSpec) error {
	return d.router.Register(ctx, store.Group{
		Folder:  spec.Folder,
		Channel: spec.Channel,
		ChatID:  spec.ChatID,
		Name:    spec.Name,
		IsMain:  spec.IsMain,
		Image:   spec.Image,
	})
}

func (d *daemon) UnregisterGroup(ctx context.Context, folder string) error {
	return d.unregisterGroup(ctx, folder)
}

func (d *daemon) ListTasks(ctx context.Context, folder string) ([]admin.TaskInfo, error) {
	tasks, err := d.store.ListTasks(ctx, folder)
	if err != nil {
		return nil, err
	}
	infos := make([]admin.TaskInfo, 0, len(tasks))
	for _, task := range tasks {
		info := admin.TaskInfo{
			ID:           task.ID,
			Group:        task.GroupFolder,
			Prompt:       task.Prompt,
			Schedule:     string(task.Schedule),
			ScheduleExpr: task.ScheduleExpr,
			Context:      string(task.Context),
			Status:       string(task.Status),
			LastResult:   task.LastResult,
			RunCount:     task.RunCount,
			Failures:     task.ConsecutiveFailures,
		}
		if !task.NextRun.IsZero() {
			info.NextRun = task.NextRun.UnixNano()
		}
		if !task.LastRun.IsZero() {
			info.LastRun = task.LastRun.UnixNano()
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (d *daemon) PauseTask(ctx context.Context, id string) error {
	return d.scheduler.Pause(ctx, id)
}

func (d *daemon) ResumeTask(ctx context.Context, id string) error {
	return d.scheduler.Resume(ctx, id)
}

func (d *daemon) CancelTask(ctx context.Context, id string) error {
	return d.scheduler.Cancel(ctx, id)
}
