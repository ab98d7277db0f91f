// Copyright 2026 The NanoClaw Authors
// SPDX-License-Identifier: Apache-2.0

// Package scheduler fires recurring and one-shot agent tasks.
//
// A single ticker loop queries the store for tasks whose next-run time
// has arrived, advances each task's schedule, and hands the task to a
// dispatch callback that enqueues a synthetic message for the owning
// group. Advancing happens at dispatch time, before the run executes,
// so a slow agent run is never dispatched a second time.
//
// Next-run policy by schedule kind:
//
//   - cron: the next match of the five-field expression after "now",
//     evaluated in UTC.
//   - interval: now + interval. After downtime a task fires once and
//     resumes its cadence from the present, rather than replaying every
//     missed firing.
//   - once: fires a single time, then the task is cancelled.
//
// Run outcomes are reported back through RecordResult. A streak of
// consecutive failures pauses the task automatically, with the reason
// recorded in its last-result field. Pause, resume, and cancel are
// idempotent and never delete the task row, so run history stays
// inspectable.
package scheduler
