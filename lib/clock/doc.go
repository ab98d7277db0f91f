// Copyright 2026 The NanoClaw Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for deterministic testing. Production
// code injects Real(); tests inject Fake() and drive it with Advance.
package clock
