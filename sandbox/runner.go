// Copyright 2026 The NanoClaw Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/qwibitai/nanoclaw-sub016/lib/clock"
	"github.com/qwibitai/nanoclaw-sub016/lib/process"
)

// ErrBackendCooldown is returned by Start while the spawn circuit
// breaker is open.
var ErrBackendCooldown = errors.New("sandbox: backend in cooldown after repeated spawn failures")

// OutcomeKind classifies how an agent run ended.
type OutcomeKind int

const (
	// OutcomeSuccess means the process exited zero after emitting at
	// least one well-formed reply.
	OutcomeSuccess OutcomeKind = iota

	// OutcomeTimeout means the wall-clock limit expired and the
	// process was terminated.
	OutcomeTimeout

	// OutcomeCrashed means the process exited non-zero or was killed
	// by a signal outside the timeout path.
	OutcomeCrashed

	// OutcomeMalformed means the process exited zero but produced no
	// parseable reply.
	OutcomeMalformed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeCrashed:
		return "crashed"
	case OutcomeMalformed:
		return "malformed"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome is the full account of one agent run.
type Outcome struct {
	Kind OutcomeKind

	// ExitCode is the process exit code, or -1 when it was killed by
	// a signal.
	ExitCode int

	// Duration is wall-clock time from spawn to exit.
	Duration time.Duration

	// PeakRSSBytes is the maximum resident set size reported by the
	// kernel for the spawned process tree root.
	PeakRSSBytes int64

	// Replies is how many well-formed replies were delivered.
	Replies int

	// Err carries detail for crashed and malformed outcomes.
	Err error
}

// Input is the document written to the agent's stdin as one JSON
// line.
type Input struct {
	// GroupFolder identifies the group whose workspace is mounted.
	GroupFolder string `json:"group_folder"`

	// ChatID is the channel-native conversation identifier, so the
	// agent can address its own chat in message requests.
	ChatID string `json:"chat_id"`

	// IsMain tells the agent whether it holds main-group privileges
	// (register/unregister requests, cross-chat messages).
	IsMain bool `json:"is_main,omitempty"`

	// Prompt is the assembled message context for this run.
	Prompt string `json:"prompt"`

	// SessionID resumes a previous agent session when non-empty.
	SessionID string `json:"session_id,omitempty"`

	// FromTask marks scheduler-originated runs.
	FromTask bool `json:"from_task,omitempty"`
}

// Hooks receive streamed events from a running invocation. Both are
// optional and are called from the runner's reader goroutine.
type Hooks struct {
	// OnReply is called for each well-formed marker-framed reply.
	OnReply func(Reply)

	// OnPartial is called for each non-empty stdout line outside
	// markers.
	OnPartial func(string)
}

// RunnerConfig holds the parameters for creating a Runner.
type RunnerConfig struct {
	// Backend builds container command lines. Required unless DryRun
	// is set.
	Backend Backend

	// Clock drives the timeout and grace timers.
	Clock clock.Clock

	// Logger receives operational messages. Nil discards.
	Logger *slog.Logger

	// Timeout is the wall-clock limit for one run.
	Timeout time.Duration

	// GracePeriod separates the termination signal from the kill.
	GracePeriod time.Duration

	// DryRun skips container execution: Start immediately succeeds
	// and echoes the input prompt back as a reply.
	DryRun bool
}

// Runner spawns agent containers and supervises their lifecycle.
type Runner struct {
	backend Backend
	clock   clock.Clock
	logger  *slog.Logger
	timeout time.Duration
	grace   time.Duration
	dryRun  bool
	breaker *breaker
}

// NewRunner creates a runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Backend == nil && !cfg.DryRun {
		return nil, fmt.Errorf("sandbox: Backend is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("sandbox: Clock is required")
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("sandbox: Timeout must be positive")
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runner{
		backend: cfg.Backend,
		clock:   cfg.Clock,
		logger:  logger,
		timeout: cfg.Timeout,
		grace:   cfg.GracePeriod,
		dryRun:  cfg.DryRun,
		breaker: newBreaker(cfg.Clock),
	}, nil
}

// Invocation is one live agent run. The caller keeps stdin open while
// the conversation may continue, then calls CloseStdin (after the IPC
// close sentinel is written) and Wait.
type Invocation struct {
	runner *Runner

	cmd      *exec.Cmd
	stdin    io.WriteCloser
	started  time.Time
	timedOut atomic.Bool

	terminateOnce sync.Once
	stdinOnce     sync.Once

	done    chan struct{}
	outcome Outcome
}

// Start spawns an agent run. Spawn failures feed the circuit breaker;
// Start fails fast with ErrBackendCooldown while it is open.
func (r *Runner) Start(ctx context.Context, spec RunSpec, input Input, hooks Hooks) (*Invocation, error) {
	if r.dryRun {
		return r.startDryRun(input, hooks), nil
	}

	if ok, remaining := r.breaker.allow(); !ok {
		return nil, fmt.Errorf("%w (retry in %s)", ErrBackendCooldown, remaining.Round(time.Millisecond))
	}

	argv, err := r.backend.BuildArgv(spec)
	if err != nil {
		return nil, err
	}

	inputLine, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("sandbox: marshal input: %w", err)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("sandbox: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("sandbox: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("sandbox: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		r.breaker.recordFailure()
		return nil, fmt.Errorf("sandbox: spawn %s: %w", r.backend.Name(), err)
	}
	r.breaker.recordSuccess()

	inv := &Invocation{
		runner:  r,
		cmd:     cmd,
		stdin:   stdin,
		started: r.clock.Now(),
		done:    make(chan struct{}),
	}

	r.logger.Info("agent started",
		"group", input.GroupFolder,
		"backend", r.backend.Name(),
		"image", spec.Image,
		"pid", cmd.Process.Pid,
	)

	if _, err := stdin.Write(append(inputLine, '\n')); err != nil {
		inv.Terminate()
	}

	timeoutTimer := r.clock.AfterFunc(r.timeout, func() {
		inv.timedOut.Store(true)
		r.logger.Warn("agent timed out", "group", input.GroupFolder, "timeout", r.timeout)
		inv.Terminate()
	})

	// Drain stderr so the process cannot block on a full pipe; lines
	// surface at debug level.
	go func() {
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 64*1024), maxReplyBytes)
		for scanner.Scan() {
			r.logger.Debug("agent stderr", "group", input.GroupFolder, "line", scanner.Text())
		}
	}()

	// Honor caller cancellation with the same terminate path.
	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			inv.Terminate()
		case <-watchDone:
		}
	}()

	go func() {
		defer close(inv.done)
		defer close(watchDone)
		defer timeoutTimer.Stop()

		replies, scanErr := scanReplies(stdout, hooks.OnPartial, hooks.OnReply)
		waitErr := cmd.Wait()

		inv.outcome = r.classify(replies, scanErr, waitErr, inv)
		r.logger.Info("agent exited",
			"group", input.GroupFolder,
			"outcome", inv.outcome.Kind.String(),
			"exit_code", inv.outcome.ExitCode,
			"duration", inv.outcome.Duration,
			"replies", replies,
		)
	}()

	return inv, nil
}

func (r *Runner) classify(replies int, scanErr, waitErr error, inv *Invocation) Outcome {
	outcome := Outcome{
		ExitCode: -1,
		Duration: r.clock.Now().Sub(inv.started),
		Replies:  replies,
	}
	if state := inv.cmd.ProcessState; state != nil {
		outcome.ExitCode = state.ExitCode()
		if rusage, ok := state.SysUsage().(*syscall.Rusage); ok && rusage != nil {
			// Maxrss is in kilobytes on Linux.
			outcome.PeakRSSBytes = rusage.Maxrss * 1024
		}
	}

	switch {
	case inv.timedOut.Load():
		outcome.Kind = OutcomeTimeout
	case waitErr != nil:
		outcome.Kind = OutcomeCrashed
		outcome.Err = waitErr
		outcome.ExitCode = process.ExitCode(waitErr)
	case replies == 0:
		outcome.Kind = OutcomeMalformed
		if scanErr != nil {
			outcome.Err = scanErr
		} else {
			outcome.Err = fmt.Errorf("sandbox: agent exited without a reply")
		}
	default:
		outcome.Kind = OutcomeSuccess
	}
	return outcome
}

// startDryRun fabricates a completed invocation that echoes the
// prompt. Exercises the full outcome path without a container.
func (r *Runner) startDryRun(input Input, hooks Hooks) *Invocation {
	inv := &Invocation{
		runner:  r,
		started: r.clock.Now(),
		done:    make(chan struct{}),
	}
	if hooks.OnReply != nil {
		hooks.OnReply(Reply{
			Status:    "ok",
			Result:    input.Prompt,
			SessionID: input.SessionID,
		})
	}
	inv.outcome = Outcome{Kind: OutcomeSuccess, Replies: 1}
	close(inv.done)
	return inv
}

// Done is closed when the process has exited and the outcome is
// available.
func (inv *Invocation) Done() <-chan struct{} { return inv.done }

// Wait blocks until the process exits and returns the outcome.
func (inv *Invocation) Wait() Outcome {
	<-inv.done
	return inv.outcome
}

// CloseStdin closes the agent's stdin. Called after the shutdown
// sentinel is in place so the agent drains follow-ups first.
func (inv *Invocation) CloseStdin() error {
	var err error
	inv.stdinOnce.Do(func() {
		if inv.stdin != nil {
			err = inv.stdin.Close()
		}
	})
	return err
}

// Terminate sends SIGTERM, waits the grace period, then SIGKILLs if
// the process is still running. Idempotent.
func (inv *Invocation) Terminate() {
	inv.terminateOnce.Do(func() {
		if inv.cmd == nil || inv.cmd.Process == nil {
			return
		}
		_ = inv.cmd.Process.Signal(syscall.SIGTERM)
		inv.runner.clock.AfterFunc(inv.runner.grace, func() {
			select {
			case <-inv.done:
			default:
				_ = inv.cmd.Process.Kill()
			}
		})
	})
}
