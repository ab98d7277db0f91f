// Copyright 2026 The NanoClaw Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"encoding/json"
	"fmt"
)

// RequestType tags the closed union of agent-to-host requests.
type RequestType string

const (
	// TypeMessage asks the host to deliver text to a chat.
	TypeMessage RequestType = "message"

	// TypeScheduleTask creates a scheduled task for the group.
	TypeScheduleTask RequestType = "schedule_task"

	// TypePauseTask suspends a task's firing.
	TypePauseTask RequestType = "pause_task"

	// TypeResumeTask reactivates a paused task.
	TypeResumeTask RequestType = "resume_task"

	// TypeCancelTask permanently retires a task.
	TypeCancelTask RequestType = "cancel_task"

	// TypeRegisterGroup creates a new group. Main group only.
	TypeRegisterGroup RequestType = "register_group"

	// TypeUnregisterGroup removes a group, archiving its workspace.
	// Main group only.
	TypeUnregisterGroup RequestType = "unregister_group"
)

// privileged reports whether the request type requires the main
// group's authority.
func (t RequestType) privileged() bool {
	return t == TypeRegisterGroup || t == TypeUnregisterGroup
}

// Request is one agent-to-host request file. The Type field selects
// which of the optional fields are meaningful; ParseRequest validates
// the combination.
type Request struct {
	Type RequestType `json:"type"`

	// GroupFolder names the requesting group and must equal the
	// directory the file was found in.
	GroupFolder string `json:"group_folder"`

	// Message fields.
	ChatID string `json:"chat_id,omitempty"`
	Text   string `json:"text,omitempty"`

	// Schedule-task fields.
	Prompt       string `json:"prompt,omitempty"`
	Schedule     string `json:"schedule,omitempty"`
	ScheduleExpr string `json:"schedule_expr,omitempty"`
	ContextMode  string `json:"context_mode,omitempty"`

	// Task-control fields.
	TaskID string `json:"task_id,omitempty"`

	// Group-management fields.
	TargetFolder string `json:"target_folder,omitempty"`
	TargetChatID string `json:"target_chat_id,omitempty"`
	Channel      string `json:"channel,omitempty"`
	Name         string `json:"name,omitempty"`
}

// ParseRequest decodes and validates one request document. Unknown or
// malformed type tags are errors, never dispatched.
func ParseRequest(data []byte) (Request, error) {
	var request Request
	if err := json.Unmarshal(data, &request); err != nil {
		return Request{}, fmt.Errorf("ipc: invalid request JSON: %w", err)
	}
	if request.GroupFolder == "" {
		return Request{}, fmt.Errorf("ipc: request missing group_folder")
	}

	switch request.Type {
	case TypeMessage:
		if request.Text == "" {
			return Request{}, fmt.Errorf("ipc: message request missing text")
		}
	case TypeScheduleTask:
		if request.Prompt == "" {
			return Request{}, fmt.Errorf("ipc: schedule_task request missing prompt")
		}
		switch request.Schedule {
		case "cron", "interval", "once":
		default:
			return Request{}, fmt.Errorf("ipc: schedule_task has unknown schedule %q", request.Schedule)
		}
		if request.ScheduleExpr == "" {
			return Request{}, fmt.Errorf("ipc: schedule_task request missing schedule_expr")
		}
	case TypePauseTask, TypeResumeTask, TypeCancelTask:
		if request.TaskID == "" {
			return Request{}, fmt.Errorf("ipc: %s request missing task_id", request.Type)
		}
	case TypeRegisterGroup:
		if request.TargetFolder == "" || request.TargetChatID == "" || request.Channel == "" {
			return Request{}, fmt.Errorf("ipc: register_group requires target_folder, target_chat_id, and channel")
		}
	case TypeUnregisterGroup:
		if request.TargetFolder == "" {
			return Request{}, fmt.Errorf("ipc: unregister_group request missing target_folder")
		}
	case "":
		return Request{}, fmt.Errorf("ipc: request missing type")
	default:
		return Request{}, fmt.Errorf("ipc: unknown request type %q", request.Type)
	}

	return request, nil
}
