// Copyright 2026 The NanoClaw Authors
// SPDX-License-Identifier: Apache-2.0

// Package queue serializes agent invocations per group.
//
// Each group moves through Idle → Starting → Active → (IdleWait |
// Closing) → Idle, with a crash edge back to Idle. One goroutine owns
// a group's entire lifecycle: Submit only appends to the pending
// buffer and wakes that goroutine, so messages reach the agent in
// arrival order and at most one process runs per group at any
// instant. Different groups are fully independent, bounded only by
// the optional global concurrency cap.
//
// After a reply with no pending input the process is kept alive for a
// grace window (IdleWait) to absorb multi-part messages; follow-ups
// arriving in that window are delivered as additional turns instead
// of new processes. A crashed or timed-out run is retried exactly
// once with its messages re-queued; a second immediate failure raises
// a group alert instead of retrying forever.
package queue
