// Copyright 2026 The NanoClaw Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"time"

	"github.com/qwibitai/nanoclaw-sub016/sandbox"
	"github.com/qwibitai/nanoclaw-sub016/store"
)

// State is a group's position in the invocation lifecycle.
type State int

const (
	// StateIdle means no process is running and nothing is pending.
	StateIdle State = iota

	// StateStarting means an invocation is being launched.
	StateStarting

	// StateActive means a process is running and may produce replies.
	StateActive

	// StateIdleWait means the process replied and is held open for a
	// grace window to absorb follow-up messages.
	StateIdleWait

	// StateClosing means the close signal was sent and the process
	// is draining.
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateIdleWait:
		return "idle-wait"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Message is one unit of inbound work for a group's agent.
type Message struct {
	// Sender names the author (chat display name, or "scheduler").
	Sender string

	// Text is the message body, or a task prompt.
	Text string

	// SentAt is the arrival time.
	SentAt time.Time

	// FromTask marks scheduler-originated work.
	FromTask bool

	// TaskID identifies the originating task when FromTask is set.
	TaskID string

	// Isolated requests a throwaway session for this run instead of
	// the group's ongoing conversation.
	Isolated bool
}

// Run is one live agent invocation as the queue sees it.
type Run interface {
	// Deliver hands the process a follow-up turn.
	Deliver(ctx context.Context, message Message) error

	// Close signals end-of-input. The process is expected to finish
	// and exit on its own afterwards. Idempotent.
	Close() error

	// Replies signals once per reply the process produced.
	Replies() <-chan struct{}

	// Done yields the final outcome exactly once, then is closed.
	Done() <-chan sandbox.Outcome
}

// Invoker launches agent invocations. The daemon's implementation
// assembles mounts, sessions, and IPC wiring around the sandbox
// runner; tests substitute fakes.
type Invoker interface {
	Invoke(ctx context.Context, group store.Group, messages []Message) (Run, error)
}

// Counters is a snapshot of manager-wide statistics.
type Counters struct {
	// Completed counts successful invocations.
	Completed uint64

	// Retries counts automatic re-invocations after a crash or
	// timeout.
	Retries uint64

	// Failed counts invocations given up on (alert raised).
	Failed uint64

	// Rejected counts messages dropped by pending-buffer overflow.
	Rejected uint64
}
