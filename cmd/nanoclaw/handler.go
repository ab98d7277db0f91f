// Copyright 2026 The NanoClaw Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/qwibitai/nanoclaw-sub016/archive"
	"github.com/qwibitai/nanoclaw-sub016/ipc"
	"github.com/qwibitai/nanoclaw-sub016/scheduler"
	"github.com/qwibitai/nanoclaw-sub016/store"
)

// handleRequest services one agent-dropped request file. Returned
// errors quarantine the file and surface the reason to the agent.
func (d *daemon) handleRequest(ctx context.Context, req ipc.Request) error {
	requester, err := d.store.GroupByFolder(ctx, req.GroupFolder)
	if err != nil {
		return err
	}
	if requester == nil {
		return fmt.Errorf("group %s is not registered", req.GroupFolder)
	}

	switch req.Type {
	case ipc.TypeMessage:
		return d.handleMessage(ctx, *requester, req)
	case ipc.TypeScheduleTask:
		return d.handleScheduleTask(ctx, req)
	case ipc.TypePauseTask, ipc.TypeResumeTask, ipc.TypeCancelTask:
		return d.handleTaskControl(ctx, *requester, req)
	case ipc.TypeRegisterGroup:
		return d.handleRegisterGroup(ctx, req)
	case ipc.TypeUnregisterGroup:
		return d.unregisterGroup(ctx, req.TargetFolder)
	default:
		return fmt.Errorf("unhandled request type %q", req.Type)
	}
}

// handleMessage delivers agent-authored text to a chat. Only the main
// group may address a chat other than its own.
func (d *daemon) handleMessage(ctx context.Context, requester store.Group, req ipc.Request) error {
	chatID := req.ChatID
	if chatID == "" {
		chatID = requester.ChatID
	}
	if chatID != requester.ChatID && !requester.IsMain {
		return fmt.Errorf("group %s may only message its own chat", requester.Folder)
	}
	return d.router.Outbound(ctx, chatID, req.Text)
}

func (d *daemon) handleScheduleTask(ctx context.Context, req ipc.Request) error {
	kind := store.ScheduleKind(req.Schedule)
	next, err := scheduler.FirstRun(kind, req.ScheduleExpr, d.clk.Now())
	if err != nil {
		return err
	}

	contextMode := store.ContextMode(req.ContextMode)
	if contextMode == "" {
		contextMode = store.ContextIsolated
	}

	task := store.Task{
		ID:           uuid.NewString(),
		GroupFolder:  req.GroupFolder,
		Prompt:       req.Prompt,
		Schedule:     kind,
		ScheduleExpr: req.ScheduleExpr,
		Context:      contextMode,
		Status:       store.TaskActive,
		NextRun:      next,
	}
	if err := d.store.CreateTask(ctx, task); err != nil {
		return err
	}
	d.logger.Info("task scheduled",
		"task", task.ID,
		"group", task.GroupFolder,
		"schedule", string(kind),
		"expr", req.ScheduleExpr,
	)
	return nil
}

// handleTaskControl pauses, resumes, or cancels a task. Groups manage
// their own tasks; the main group manages anyone's.
func (d *daemon) handleTaskControl(ctx context.Context, requester store.Group, req ipc.Request) error {
	task, err := d.store.TaskByID(ctx, req.TaskID)
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("task %s not found", req.TaskID)
	}
	if task.GroupFolder != requester.Folder && !requester.IsMain {
		return fmt.Errorf("task %s belongs to another group", req.TaskID)
	}

	switch req.Type {
	case ipc.TypePauseTask:
		return d.scheduler.Pause(ctx, req.TaskID)
	case ipc.TypeResumeTask:
		return d.scheduler.Resume(ctx, req.TaskID)
	default:
		return d.scheduler.Cancel(ctx, req.TaskID)
	}
}

func (d *daemon) handleRegisterGroup(ctx context.Context, req ipc.Request) error {
	return d.router.Register(ctx, store.Group{
		Folder:  req.TargetFolder,
		Channel: req.Channel,
		ChatID:  req.TargetChatID,
		Name:    req.Name,
	})
}

// unregisterGroup retires a group: its queue is drained and stopped,
// the workspace is archived then removed along with the IPC subtree,
// and finally the database rows go. The main group cannot be removed.
func (d *daemon) unregisterGroup(ctx context.Context, folder string) error {
	group, err := d.store.GroupByFolder(ctx, folder)
	if err != nil {
		return err
	}
	if group == nil {
		return fmt.Errorf("group %s is not registered", folder)
	}
	if group.IsMain {
		return fmt.Errorf("refusing to unregister the main group")
	}

	d.manager.Remove(folder)

	workspace := d.workspaceDir(folder)
	if _, err := os.Stat(workspace); err == nil {
		result, err := archive.Create(workspace, d.cfg.Paths.Archives, folder, archive.CodecZstd, d.clk.Now())
		if err != nil {
			return fmt.Errorf("archiving workspace for %s: %w", folder, err)
		}
		d.logger.Info("workspace archived",
			"group", folder,
			"path", result.Path,
			"files", result.Files,
			"bytes", result.Bytes,
		)
	}

	if err := os.RemoveAll(workspace); err != nil {
		return err
	}
	if err := ipc.RemoveGroupDirs(d.cfg.Paths.IPC, folder); err != nil {
		return err
	}
	if err := d.store.DeleteGroup(ctx, folder); err != nil {
		return err
	}
	d.logger.Info("group unregistered", "group", folder)
	return nil
}
