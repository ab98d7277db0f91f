// Copyright 2026 The NanoClaw Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipc implements the file-drop protocol between the host and
// sandboxed agents.
//
// Each group owns one subtree under the IPC root:
//
//	<root>/<folder>/requests/         agent → host requests
//	<root>/<folder>/requests/errors/  quarantined request files
//	<root>/<folder>/input/            host → agent follow-up turns
//	<root>/<folder>/input/close       stream-close sentinel
//
// Files are JSON documents written atomically (temp file plus rename
// in the same directory), so a consumer never observes a partial
// write. File names carry a monotonic counter prefix; consuming in
// name order preserves write order. The consumer deletes a file after
// handling it and moves failures to errors/ with a reason sidecar, so
// re-polling a settled directory never double-processes anything.
//
// A filesystem watcher wakes the request poller early; a fixed
// interval tick is the guaranteed fallback, preserving the same
// idempotent-consume contract when events are missed.
package ipc
