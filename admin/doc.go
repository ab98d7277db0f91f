// Copyright 2026 The NanoClaw Authors
// SPDX-License-Identifier: Apache-2.0

// Package admin is the operator control surface: a local Unix socket
// speaking one CBOR request/response pair per connection.
//
// The daemon exposes status counters, the group registry, and task
// control (pause, resume, cancel) through a Controller implementation;
// nanoclawctl is the matching client. Requests arriving over the
// socket are host-side and trusted — the socket's file permissions are
// the authorization boundary, the same model as the sandboxed-process
// IPC directory but for operators instead of agents.
package admin
