// Copyright 2026 The NanoClaw Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"fmt"
	"os"
	"path/filepath"
)

// Dir names within a group's IPC subtree.
const (
	requestsDirName = "requests"
	errorsDirName   = "errors"
	inputDirName    = "input"

	// CloseSentinel is the file name whose presence in the input
	// directory tells the agent no further turns are coming.
	CloseSentinel = "close"
)

// GroupDirs holds the resolved paths of one group's IPC subtree.
type GroupDirs struct {
	// Base is <root>/<folder>.
	Base string

	// Requests receives agent-to-host request files.
	Requests string

	// Errors receives quarantined request files.
	Errors string

	// Input receives host-to-agent follow-up turns.
	Input string
}

// DirsFor computes (without creating) a group's IPC paths.
func DirsFor(root, folder string) GroupDirs {
	base := filepath.Join(root, folder)
	requests := filepath.Join(base, requestsDirName)
	return GroupDirs{
		Base:     base,
		Requests: requests,
		Errors:   filepath.Join(requests, errorsDirName),
		Input:    filepath.Join(base, inputDirName),
	}
}

// EnsureGroupDirs creates a group's IPC subtree.
func EnsureGroupDirs(root, folder string) (GroupDirs, error) {
	dirs := DirsFor(root, folder)
	for _, dir := range []string{dirs.Requests, dirs.Errors, dirs.Input} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return GroupDirs{}, fmt.Errorf("ipc: creating %s: %w", dir, err)
		}
	}
	return dirs, nil
}

// RemoveGroupDirs deletes a group's entire IPC subtree. Called on
// unregister after the workspace is archived.
func RemoveGroupDirs(root, folder string) error {
	dirs := DirsFor(root, folder)
	if err := os.RemoveAll(dirs.Base); err != nil {
		return fmt.Errorf("ipc: removing %s: %w", dirs.Base, err)
	}
	return nil
}
