// Copyright 2026 The NanoClaw Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/qwibitai/nanoclaw-sub016/admin"
	"github.com/qwibitai/nanoclaw-sub016/channel"
	"github.com/qwibitai/nanoclaw-sub016/ipc"
	"github.com/qwibitai/nanoclaw-sub016/lib/clock"
	"github.com/qwibitai/nanoclaw-sub016/lib/config"
	"github.com/qwibitai/nanoclaw-sub016/lib/sealed"
	"github.com/qwibitai/nanoclaw-sub016/lib/secret"
	"github.com/qwibitai/nanoclaw-sub016/queue"
	"github.com/qwibitai/nanoclaw-sub016/sandbox"
	"github.com/qwibitai/nanoclaw-sub016/scheduler"
	"github.com/qwibitai/nanoclaw-sub016/store"
)

// daemon wires every component together and owns their lifecycles.
type daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	clk    clock.Clock

	store     *store.Store
	policy    *sandbox.Policy
	runner    *sandbox.Runner
	manager   *queue.Manager
	scheduler *scheduler.Scheduler
	router    *channel.Router
	poller    *ipc.Poller
	admin     *admin.Server

	// sandboxEnv is the allowlist-filtered environment every agent
	// container receives.
	sandboxEnv map[string]string

	startedAt time.Time
}

func newDaemon(cfg *config.Config, logger *slog.Logger) (*daemon, error) {
	d := &daemon{
		cfg:       cfg,
		logger:    logger,
		clk:       clock.Real(),
		startedAt: time.Now(),
	}

	for _, dir := range []string{cfg.Paths.Workspaces, cfg.Paths.IPC, cfg.Paths.Archives, cfg.Paths.State} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	st, err := store.Open(store.Config{
		Path:   cfg.Paths.DatabasePath(),
		Clock:  d.clk,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	d.store = st

	roots := make([]sandbox.AllowedRoot, 0, len(cfg.Sandbox.AllowedRoots))
	for _, root := range cfg.Sandbox.AllowedRoots {
		roots = append(roots, sandbox.AllowedRoot{Path: root.Path, Writable: root.Writable})
	}
	policy, err := sandbox.NewPolicy(roots, cfg.Sandbox.BlockedPatterns)
	if err != nil {
		return nil, err
	}
	d.policy = policy

	var backend sandbox.Backend
	if !cfg.Sandbox.DryRun {
		backend, err = sandbox.NewBackend(cfg.Sandbox.Backend)
		if err != nil {
			return nil, err
		}
	}
	runner, err := sandbox.NewRunner(sandbox.RunnerConfig{
		Backend:     backend,
		Clock:       d.clk,
		Logger:      logger,
		Timeout:     cfg.Sandbox.Timeout,
		GracePeriod: cfg.Sandbox.GracePeriod,
		DryRun:      cfg.Sandbox.DryRun,
	})
	if err != nil {
		return nil, err
	}
	d.runner = runner

	d.sandboxEnv, err = loadSandboxEnv(cfg)
	if err != nil {
		return nil, err
	}

	manager, err := queue.NewManager(queue.Config{
		Invoker:       &agentInvoker{d: d},
		Clock:         d.clk,
		Logger:        logger,
		IdleWait:      cfg.Queue.IdleWait,
		MaxPending:    cfg.Queue.MaxPending,
		MaxConcurrent: cfg.Sandbox.MaxConcurrent,
		OnAlert:       d.alertGroup,
	})
	if err != nil {
		return nil, err
	}
	d.manager = manager

	sched, err := scheduler.New(scheduler.Config{
		Store:                  st,
		Clock:                  d.clk,
		Logger:                 logger,
		TickInterval:           cfg.Scheduler.TickInterval,
		MaxConsecutiveFailures: cfg.Scheduler.MaxConsecutiveFailures,
		Dispatch:               d.dispatchTask,
	})
	if err != nil {
		return nil, err
	}
	d.scheduler = sched

	router, err := channel.NewRouter(channel.Config{
		Store:      st,
		Clock:      d.clk,
		Logger:     logger,
		Submit:     manager.Submit,
		OnRegister: d.provisionGroup,
	})
	if err != nil {
		return nil, err
	}
	d.router = router

	poller, err := ipc.NewPoller(ipc.PollerConfig{
		Root:            cfg.Paths.IPC,
		Clock:           d.clk,
		Logger:          logger,
		PollInterval:    cfg.IPC.PollInterval,
		MaxRequestBytes: cfg.IPC.MaxRequestBytes,
		MainFolder:      d.mainFolder,
		Handle:          d.handleRequest,
	})
	if err != nil {
		return nil, err
	}
	d.poller = poller

	adminServer, err := admin.Listen(cfg.Admin.Socket, d, logger)
	if err != nil {
		return nil, err
	}
	d.admin = adminServer

	return d, nil
}

// run starts every loop and blocks until the context is cancelled or
// a component fails.
func (d *daemon) run(ctx context.Context) error {
	if err := d.provisionExistingGroups(ctx); err != nil {
		return err
	}
	if d.cfg.Scheduler.SeedFile != "" {
		if err := d.scheduler.LoadSeedFile(ctx, d.cfg.Scheduler.SeedFile); err != nil {
			return err
		}
	}

	errCh := make(chan error, 3)
	go func() { errCh <- d.poller.Run(ctx) }()
	go func() { errCh <- d.scheduler.Run(ctx) }()
	go func() { errCh <- d.admin.Serve(ctx) }()

	var runErr error
	select {
	case <-ctx.Done():
		d.logger.Info("shutting down")
	case err := <-errCh:
		if err != nil && ctx.Err() == nil {
			runErr = err
		}
	}

	d.manager.Close()
	d.admin.Close()
	return runErr
}

func (d *daemon) close() {
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Error("closing store failed", "error", err)
		}
	}
}

// provisionExistingGroups recreates workspace and IPC directories for
// every registered group, so a fresh host with a carried-over
// database comes up ready.
func (d *daemon) provisionExistingGroups(ctx context.Context) error {
	groups, err := d.store.ListGroups(ctx)
	if err != nil {
		return err
	}
	for _, group := range groups {
		if err := d.provisionGroup(ctx, group); err != nil {
			return err
		}
	}
	return nil
}

// provisionGroup creates a group's workspace and IPC subtree.
func (d *daemon) provisionGroup(ctx context.Context, group store.Group) error {
	if err := os.MkdirAll(d.workspaceDir(group.Folder), 0o755); err != nil {
		return fmt.Errorf("creating workspace for %s: %w", group.Folder, err)
	}
	if _, err := ipc.EnsureGroupDirs(d.cfg.Paths.IPC, group.Folder); err != nil {
		return err
	}
	return nil
}

func (d *daemon) workspaceDir(folder string) string {
	return filepath.Join(d.cfg.Paths.Workspaces, folder)
}

// mainFolder reports the current main group for IPC authorization.
func (d *daemon) mainFolder(ctx context.Context) string {
	group, err := d.store.MainGroup(ctx)
	if err != nil || group == nil {
		return ""
	}
	return group.Folder
}

// dispatchTask turns a due task into a synthetic queue message.
func (d *daemon) dispatchTask(ctx context.Context, task store.Task) error {
	group, err := d.store.GroupByFolder(ctx, task.GroupFolder)
	if err != nil {
		return err
	}
	if group == nil {
		return fmt.Errorf("task %s: group %s is not registered", task.ID, task.GroupFolder)
	}
	d.manager.Submit(*group, queue.Message{
		Sender:   "scheduler",
		Text:     task.Prompt,
		SentAt:   d.clk.Now(),
		FromTask: true,
		TaskID:   task.ID,
		Isolated: task.Context == store.ContextIsolated,
	})
	return nil
}

// alertGroup tells a group's chat that its agent gave up.
func (d *daemon) alertGroup(group store.Group, alertErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	text := fmt.Sprintf("The assistant could not complete the last request (%v). It will try again on the next message.", alertErr)
	if err := d.router.Outbound(ctx, group.ChatID, text); err != nil {
		d.logger.Warn("delivering failure notice failed",
			"group", group.Folder,
			"error", err,
		)
	}
}

// loadSandboxEnv resolves the env allowlist: the sealed secrets
// bundle first, the host environment as fallback. Nothing outside the
// allowlist ever reaches a sandbox.
func loadSandboxEnv(cfg *config.Config) (map[string]string, error) {
	var bundle map[string]string
	if cfg.Paths.SecretsBundle != "" {
		hostKey, err := secret.ReadFromPath(cfg.Paths.HostKey)
		if err != nil {
			return nil, fmt.Errorf("reading host key: %w", err)
		}
		defer hostKey.Close()
		bundle, err = sealed.LoadBundle(cfg.Paths.SecretsBundle, hostKey)
		if err != nil {
			return nil, err
		}
	}

	env := make(map[string]string, len(cfg.Sandbox.EnvAllowlist))
	for _, key := range cfg.Sandbox.EnvAllowlist {
		if value, ok := bundle[key]; ok {
			env[key] = value
			continue
		}
		if value, ok := os.LookupEnv(key); ok {
			env[key] = value
		}
	}
	return env, nil
}
