// Copyright 2026 The NanoClaw Authors
// SPDX-License-Identifier: Apache-2.0

// Package sandbox runs agent processes in containers and decides what
// the host exposes to them.
//
// Three concerns live here:
//
//   - The mount policy: a pure decision function that grants or denies
//     host directory mounts against a global allowlist, per-group
//     requests, and an always-applied sensitive-path blocklist.
//
//   - Command construction: a RunSpec describes one container run
//     (image, command, mounts, environment) and a Backend turns it
//     into an argv for the configured runtime (docker or the Apple
//     container CLI).
//
//   - The runner: spawns the container, feeds the input document on
//     stdin, scans stdout for marker-delimited replies, enforces the
//     wall-clock timeout with a termination grace period, and reports
//     a structured Outcome.
package sandbox
