// Copyright 2026 The NanoClaw Authors
// SPDX-License-Identifier: Apache-2.0

package admin

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/qwibitai/nanoclaw-sub016/lib/codec"
)

// ErrDenied reports a request the daemon refused; the response's
// error text is wrapped around it.
var ErrDenied = errors.New("admin: request refused")

// Client dials the admin socket for one request per call.
type Client struct {
	socketPath string
}

// NewClient creates a client for the given socket path.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// Do sends one request and returns the daemon's response. A response
// carrying an error is returned as an ErrDenied-wrapped error.
func (c *Client) Do(ctx context.Context, request Request) (*Response, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("admin: dialing %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, fmt.Errorf("admin: %w", err)
		}
	}

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return nil, fmt.Errorf("admin: sending %s: %w", request.Action, err)
	}
	var response Response
	if err := codec.NewDecoder(conn).Decode(&response); err != nil {
		return nil, fmt.Errorf("admin: reading %s response: %w", request.Action, err)
	}
	if !response.OK {
		return nil, fmt.Errorf("admin: %s: %s: %w", request.Action, response.Error, ErrDenied)
	}
	return &response, nil
}
