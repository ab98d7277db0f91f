// Copyright 2026 The NanoClaw Authors
// SPDX-License-Identifier: Apache-2.0

// Package cron parses standard 5-field cron expressions and computes
// the next occurrence after a given time.
//
//	┌───────────── minute (0-59)
//	│ ┌───────────── hour (0-23)
//	│ │ ┌───────────── day of month (1-31)
//	│ │ │ ┌───────────── month (1-12)
//	│ │ │ │ ┌───────────── day of week (0-6, 0=Sunday)
//	│ │ │ │ │
//	* * * * *
//
// Each field supports single values, ranges (1-5), lists (1,3,5),
// steps (*/15, 1-30/5), and the wildcard *.
//
// All times are UTC. No @daily shortcuts, no seconds field, no named
// days or months. NanoClaw scheduled tasks use UTC wall-clock time
// exclusively.
package cron
