// Copyright 2026 The NanoClaw Authors
// SPDX-License-Identifier: Apache-2.0

// Package archive preserves group workspaces as compressed tarballs.
//
// Unregistering a group deletes its workspace and IPC directories;
// before that happens the workspace is archived to
// <archives>/<folder>-<timestamp>.tar.<ext> so nothing a group's
// agent wrote is lost. Archives are written atomically (temp file,
// then rename) and accompanied by a BLAKE3 digest sidecar for
// integrity checks. Both zstd (better ratio, the default) and lz4
// (faster) are supported, and Extract restores an archive with path
// traversal guarded.
package archive
