// Copyright 2026 The NanoClaw Authors
// SPDX-License-Identifier: Apache-2.0

package admin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"

	"github.com/qwibitai/nanoclaw-sub016/lib/codec"
)

// Controller is what the daemon exposes to the admin socket.
type Controller interface {
	Status(ctx context.Context) (Status, error)
	ListGroups(ctx context.Context) ([]GroupInfo, error)
	RegisterGroup(ctx context.Context, spec GroupSpec) error
	UnregisterGroup(ctx context.Context, folder string) error
	ListTasks(ctx context.Context, folder string) ([]TaskInfo, error)
	PauseTask(ctx context.Context, id string) error
	ResumeTask(ctx context.Context, id string) error
	CancelTask(ctx context.Context, id string) error
}

// Server accepts operator connections on a Unix socket.
type Server struct {
	controller Controller
	logger     *slog.Logger
	listener   net.Listener
}

// Listen binds the admin socket, removing any stale socket file from
// a previous run.
func Listen(socketPath string, controller Controller, logger *slog.Logger) (*Server, error) {
	if controller == nil {
		return nil, fmt.Errorf("admin: Controller is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if err := os.MkdirAll(filepath.Dir(socketPath), 0o755); err != nil {
		return nil, fmt.Errorf("admin: creating socket directory: %w", err)
	}
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("admin: removing stale socket %s: %w", socketPath, err)
	}
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("admin: %w", err)
	}
	if err := os.Chmod(socketPath, 0o660); err != nil {
		listener.Close()
		return nil, fmt.Errorf("admin: setting socket permissions: %w", err)
	}

	return &Server{
		controller: controller,
		logger:     logger,
		listener:   listener,
	}, nil
}

// Serve accepts connections until the context is cancelled or the
// listener is closed.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("admin: accept: %w", err)
		}
		go s.handleConnection(ctx, conn)
	}
}

// Close stops the listener.
func (s *Server) Close() error { return s.listener.Close() }

// Addr returns the listener address, for tests.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// handleConnection serves exactly one request per connection.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	decoder := codec.NewDecoder(conn)
	encoder := codec.NewEncoder(conn)

	var request Request
	if err := decoder.Decode(&request); err != nil {
		s.logger.Warn("malformed admin request", "error", err)
		if err := encoder.Encode(Response{Error: "invalid request"}); err != nil {
			s.logger.Warn("writing admin response failed", "error", err)
		}
		return
	}

	response := s.dispatch(ctx, request)
	if err := encoder.Encode(response); err != nil {
		s.logger.Warn("writing admin response failed",
			"action", request.Action,
			"error", err,
		)
	}
}

func (s *Server) dispatch(ctx context.Context, request Request) Response {
	switch request.Action {
	case ActionStatus:
		status, err := s.controller.Status(ctx)
		if err != nil {
			return errorResponse(err)
		}
		return Response{OK: true, Status: &status}

	case ActionListGroups:
		groups, err := s.controller.ListGroups(ctx)
		if err != nil {
			return errorResponse(err)
		}
		return Response{OK: true, Groups: groups}

	case ActionRegisterGroup:
		if request.Group == nil {
			return Response{Error: "group is required"}
		}
		if err := s.controller.RegisterGroup(ctx, *request.Group); err != nil {
			return errorResponse(err)
		}
		return Response{OK: true}

	case ActionUnregisterGroup:
		if request.Folder == "" {
			return Response{Error: "folder is required"}
		}
		if err := s.controller.UnregisterGroup(ctx, request.Folder); err != nil {
			return errorResponse(err)
		}
		return Response{OK: true}

	case ActionListTasks:
		tasks, err := s.controller.ListTasks(ctx, request.Folder)
		if err != nil {
			return errorResponse(err)
		}
		return Response{OK: true, Tasks: tasks}

	case ActionPauseTask, ActionResumeTask, ActionCancelTask:
		if request.TaskID == "" {
			return Response{Error: "task_id is required"}
		}
		var err error
		switch request.Action {
		case ActionPauseTask:
			err = s.controller.PauseTask(ctx, request.TaskID)
		case ActionResumeTask:
			err = s.controller.ResumeTask(ctx, request.TaskID)
		case ActionCancelTask:
			err = s.controller.CancelTask(ctx, request.TaskID)
		}
		if err != nil {
			return errorResponse(err)
		}
		return Response{OK: true}

	default:
		return Response{Error: fmt.Sprintf("unknown action %q", request.Action)}
	}
}

func errorResponse(err error) Response {
	return Response{Error: err.Error()}
}
