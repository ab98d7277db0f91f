// Copyright 2026 The NanoClaw Authors
// SPDX-License-Identifier: Apache-2.0

// nanoclaw is the personal-assistant orchestrator daemon.
//
// One process owns everything: channel adapters feed inbound chat
// messages through the router into per-group execution queues; each
// queue runs at most one sandboxed agent container at a time; agents
// talk back to the host through a file-drop IPC directory; the
// scheduler re-enters the same queue path on a timer; and an admin
// Unix socket exposes status and group/task control to nanoclawctl.
//
// Usage:
//
//	nanoclaw --config /etc/nanoclaw/config.yaml
package main
