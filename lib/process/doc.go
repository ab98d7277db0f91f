// Copyright 2026 The NanoClaw Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides small helpers shared by NanoClaw binary
// entrypoints and subprocess management.
package process
