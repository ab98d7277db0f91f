// Copyright 2026 The NanoClaw Authors
// SPDX-License-Identifier: Apache-2.0

package admin

// Actions understood by the admin socket.
const (
	ActionStatus          = "status"
	ActionListGroups      = "list-groups"
	ActionRegisterGroup   = "register-group"
	ActionUnregisterGroup = "unregister-group"
	ActionListTasks       = "list-tasks"
	ActionPauseTask       = "pause-task"
	ActionResumeTask      = "resume-task"
	ActionCancelTask      = "cancel-task"
)

// Request is one CBOR-encoded operator command.
type Request struct {
	// Action selects the operation.
	Action string `cbor:"action"`

	// Group carries the group definition for register-group.
	Group *GroupSpec `cbor:"group,omitempty"`

	// Folder names the target group for unregister-group, and
	// optionally filters list-tasks.
	Folder string `cbor:"folder,omitempty"`

	// TaskID names the target task for pause/resume/cancel.
	TaskID string `cbor:"task_id,omitempty"`
}

// Response is the single CBOR reply to a Request.
type Response struct {
	OK    bool   `cbor:"ok"`
	Error string `cbor:"error,omitempty"`

	Status *Status     `cbor:"status,omitempty"`
	Groups []GroupInfo `cbor:"groups,omitempty"`
	Tasks  []TaskInfo  `cbor:"tasks,omitempty"`
}

// GroupSpec is a host-side group registration.
type GroupSpec struct {
	Folder  string `cbor:"folder"`
	Channel string `cbor:"channel"`
	ChatID  string `cbor:"chat_id"`
	Name    string `cbor:"name,omitempty"`
	IsMain  bool   `cbor:"is_main,omitempty"`
	Image   string `cbor:"image,omitempty"`
}

// Status is a snapshot of the daemon's counters.
type Status struct {
	Version        string `cbor:"version"`
	UptimeSeconds  int64  `cbor:"uptime_seconds"`
	Groups         int    `cbor:"groups"`
	SchedulerTicks uint64 `cbor:"scheduler_ticks"`

	// Queue outcome counters since daemon start.
	Completed uint64 `cbor:"completed"`
	Retries   uint64 `cbor:"retries"`
	Failed    uint64 `cbor:"failed"`
	Rejected  uint64 `cbor:"rejected"`
}

// GroupInfo describes one registered group.
type GroupInfo struct {
	Folder      string `cbor:"folder"`
	Channel     string `cbor:"channel"`
	ChatID      string `cbor:"chat_id"`
	Name        string `cbor:"name"`
	IsMain      bool   `cbor:"is_main,omitempty"`
	Image       string `cbor:"image,omitempty"`
	State       string `cbor:"state"`
	LastAgentAt int64  `cbor:"last_agent_at,omitempty"`
}

// TaskInfo describes one scheduled task.
type TaskInfo struct {
	ID           string `cbor:"id"`
	Group        string `cbor:"group"`
	Prompt       string `cbor:"prompt"`
	Schedule     string `cbor:"schedule"`
	ScheduleExpr string `cbor:"schedule_expr"`
	Context      string `cbor:"context"`
	Status       string `cbor:"status"`
	NextRun      int64  `cbor:"next_run,omitempty"`
	LastRun      int64  `cbor:"last_run,omitempty"`
	LastResult   string `cbor:"last_result,omitempty"`
	RunCount     int64  `cbor:"run_count"`
	Failures     int    `cbor:"failures,omitempty"`
}
