// Copyright 2026 The NanoClaw Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/qwibitai/nanoclaw-sub016/ipc"
	"github.com/qwibitai/nanoclaw-sub016/queue"
	"github.com/qwibitai/nanoclaw-sub016/sandbox"
	"github.com/qwibitai/nanoclaw-sub016/store"
)

// agentInvoker assembles everything a sandboxed agent run needs:
// mounts, secrets, session resumption, the IPC subtree, and the hook
// that routes replies back to the chat.
type agentInvoker struct {
	d *daemon
}

func (ai *agentInvoker) Invoke(ctx context.Context, group store.Group, messages []queue.Message) (queue.Run, error) {
	d := ai.d
	if len(messages) == 0 {
		return nil, fmt.Errorf("invoke %s: empty batch", group.Folder)
	}

	dirs, err := ipc.EnsureGroupDirs(d.cfg.Paths.IPC, group.Folder)
	if err != nil {
		return nil, err
	}

	spec := sandbox.RunSpec{
		Image:   d.cfg.Sandbox.Image,
		Command: d.cfg.Sandbox.Command,
		Mounts: []sandbox.Mount{
			{Source: d.workspaceDir(group.Folder), Target: "/workspace"},
			{Source: dirs.Base, Target: "/workspace/ipc"},
		},
		Env: d.runEnv(group),
	}
	if group.Image != "" {
		spec.Image = group.Image
	}
	spec.Mounts = append(spec.Mounts, d.extraMounts(group)...)

	isolated := messages[0].Isolated
	sessionID := ""
	if !isolated {
		sessionID, err = d.store.Session(ctx, group.Folder)
		if err != nil {
			return nil, err
		}
	}

	prompt, watermark, err := ai.buildPrompt(ctx, group, messages)
	if err != nil {
		return nil, err
	}

	writer := ipc.NewInputWriter(d.cfg.Paths.IPC, group.Folder)
	if err := writer.ClearInput(); err != nil {
		return nil, err
	}

	run := &agentRun{
		d:         d,
		group:     group,
		writer:    writer,
		isolated:  isolated,
		taskID:    messages[0].TaskID,
		watermark: watermark,
		replies:   make(chan struct{}, 16),
		done:      make(chan sandbox.Outcome, 1),
	}

	input := sandbox.Input{
		GroupFolder: group.Folder,
		ChatID:      group.ChatID,
		IsMain:      group.IsMain,
		Prompt:      prompt,
		SessionID:   sessionID,
		FromTask:    messages[0].FromTask,
	}
	inv, err := d.runner.Start(ctx, spec, input, sandbox.Hooks{
		OnReply: run.onReply,
		OnPartial: func(line string) {
			d.logger.Debug("agent output", "group", group.Folder, "line", line)
		},
	})
	if err != nil {
		return nil, err
	}
	run.inv = inv

	go run.watch()
	return run, nil
}

// buildPrompt assembles the agent's context. Task runs use the task
// prompt verbatim; chat runs replay everything logged since the agent
// last saw the conversation, so untriggered chatter becomes context.
func (ai *agentInvoker) buildPrompt(ctx context.Context, group store.Group, messages []queue.Message) (string, time.Time, error) {
	watermark := messages[len(messages)-1].SentAt

	if messages[0].FromTask {
		return messages[0].Text, watermark, nil
	}

	logged, err := ai.d.store.MessagesSince(ctx, group.Folder, group.LastAgentAt)
	if err != nil {
		return "", time.Time{}, err
	}

	var b strings.Builder
	for _, m := range logged {
		fmt.Fprintf(&b, "[%s] %s: %s\n", m.SentAt.UTC().Format(time.RFC3339), m.Sender, m.Content)
		if m.SentAt.After(watermark) {
			watermark = m.SentAt
		}
	}
	if b.Len() == 0 {
		// Message log lagging the queue; fall back to the batch.
		for _, m := range messages {
			fmt.Fprintf(&b, "[%s] %s: %s\n", m.SentAt.UTC().Format(time.RFC3339), m.Sender, m.Text)
		}
	}
	return b.String(), watermark, nil
}

// runEnv is the allowlisted environment plus the run's own identity.
func (d *daemon) runEnv(group store.Group) map[string]string {
	env := make(map[string]string, len(d.sandboxEnv)+2)
	for k, v := range d.sandboxEnv {
		env[k] = v
	}
	env["NANOCLAW_GROUP"] = group.Folder
	env["NANOCLAW_CHAT_ID"] = group.ChatID
	return env
}

// extraMounts resolves the group's requested mounts through the
// security policy. Denied requests are logged and skipped rather than
// failing the run.
func (d *daemon) extraMounts(group store.Group) []sandbox.Mount {
	var mounts []sandbox.Mount
	for _, req := range group.Mounts {
		decision := d.policy.Resolve(sandbox.MountRequest{
			HostPath:  req.HostPath,
			WantWrite: req.Writable,
			MainGroup: group.IsMain,
		})
		if !decision.Allowed {
			d.logger.Warn("mount denied",
				"group", group.Folder,
				"path", req.HostPath,
				"reason", decision.Reason,
			)
			continue
		}
		mounts = append(mounts, sandbox.Mount{
			Source:   decision.ResolvedPath,
			Target:   filepath.Join("/mnt", filepath.Base(decision.ResolvedPath)),
			ReadOnly: !decision.Writable,
		})
	}
	return mounts
}

// agentRun adapts one live sandbox invocation to the queue's Run
// interface; follow-ups go in through the file-drop writer, replies
// come out through the reply hook.
type agentRun struct {
	d        *daemon
	group    store.Group
	writer   *ipc.InputWriter
	inv      *sandbox.Invocation
	isolated bool
	taskID   string

	replies chan struct{}
	done    chan sandbox.Outcome

	mu        sync.Mutex
	watermark time.Time
	lastReply sandbox.Reply
	gotReply  bool
}

func (r *agentRun) Deliver(ctx context.Context, message queue.Message) error {
	if err := r.writer.WriteTurn(ipc.InputTurn{
		Sender: message.Sender,
		Text:   message.Text,
		SentAt: message.SentAt,
	}); err != nil {
		return err
	}
	r.mu.Lock()
	if message.SentAt.After(r.watermark) {
		r.watermark = message.SentAt
	}
	r.mu.Unlock()
	return nil
}

func (r *agentRun) Close() error {
	if err := r.writer.WriteClose(); err != nil {
		return err
	}
	return r.inv.CloseStdin()
}

func (r *agentRun) Replies() <-chan struct{} { return r.replies }

func (r *agentRun) Done() <-chan sandbox.Outcome { return r.done }

// onReply runs on the invocation's scanner goroutine for each
// marker-framed reply.
func (r *agentRun) onReply(reply sandbox.Reply) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	r.mu.Lock()
	r.lastReply = reply
	r.gotReply = true
	watermark := r.watermark
	r.mu.Unlock()

	if reply.SessionID != "" && !r.isolated {
		if err := r.d.store.SetSession(ctx, r.group.Folder, reply.SessionID); err != nil {
			r.d.logger.Error("persisting session failed", "group", r.group.Folder, "error", err)
		}
	}
	if !watermark.IsZero() {
		if err := r.d.store.SetLastAgentAt(ctx, r.group.Folder, watermark); err != nil {
			r.d.logger.Error("advancing message watermark failed", "group", r.group.Folder, "error", err)
		}
	}

	switch {
	case reply.Status == "error":
		r.d.logger.Warn("agent reported error", "group", r.group.Folder, "error", reply.Error)
	case reply.Result != "":
		if err := r.d.router.Outbound(ctx, r.group.ChatID, reply.Result); err != nil {
			r.d.logger.Error("delivering reply failed", "group", r.group.Folder, "error", err)
		}
	}

	select {
	case r.replies <- struct{}{}:
	default:
	}
}

// watch waits out the invocation, records scheduled-task results, and
// publishes the final outcome to the queue.
func (r *agentRun) watch() {
	<-r.inv.Done()
	outcome := r.inv.Wait()

	if r.taskID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		r.mu.Lock()
		last, got := r.lastReply, r.gotReply
		r.mu.Unlock()

		ok := outcome.Kind == sandbox.OutcomeSuccess && (!got || last.Status != "error")
		result := outcome.Kind.String()
		switch {
		case got && last.Status == "error":
			result = last.Error
		case got && last.Result != "":
			result = last.Result
		}
		if err := r.d.scheduler.RecordResult(ctx, r.taskID, ok, result); err != nil {
			r.d.logger.Error("recording task result failed", "task", r.taskID, "error", err)
		}
		cancel()
	}

	r.done <- outcome
	close(r.done)
}
