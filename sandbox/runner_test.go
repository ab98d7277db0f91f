// Copyright 2026 The NanoClaw Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/qwibitai/nanoclaw-sub016/lib/clock"
)

// scriptBackend runs a shell script instead of a container, letting
// runner tests exercise the real process lifecycle.
type scriptBackend struct {
	script string
}

func (scriptBackend) Name() string { return "script" }

func (b scriptBackend) BuildArgv(RunSpec) ([]string, error) {
	return []string{"/bin/sh", "-c", b.script}, nil
}

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("runner tests need /bin/sh")
	}
}

func newScriptRunner(t *testing.T, script string, timeout, grace time.Duration) *Runner {
	t.Helper()
	runner, err := NewRunner(RunnerConfig{
		Backend:     scriptBackend{script: script},
		Clock:       clock.Real(),
		Timeout:     timeout,
		GracePeriod: grace,
	})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	return runner
}

const replyScript = `cat >/dev/null
echo "working on it"
echo "<<<NANOCLAW_REPLY>>>"
echo '{"status":"ok","result":"done","session_id":"sess-9"}'
echo "<<<NANOCLAW_REPLY_END>>>"
`

func TestRunnerSuccess(t *testing.T) {
	requireUnix(t)
	runner := newScriptRunner(t, replyScript, 30*time.Second, time.Second)

	var replies []Reply
	var partial []string
	inv, err := runner.Start(context.Background(), RunSpec{}, Input{GroupFolder: "g", Prompt: "hi"}, Hooks{
		OnReply:   func(r Reply) { replies = append(replies, r) },
		OnPartial: func(line string) { partial = append(partial, line) },
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := inv.CloseStdin(); err != nil {
		t.Fatalf("CloseStdin: %v", err)
	}

	outcome := inv.Wait()
	if outcome.Kind != OutcomeSuccess {
		t.Fatalf("outcome = %s (%v), want success", outcome.Kind, outcome.Err)
	}
	if outcome.ExitCode != 0 || outcome.Replies != 1 {
		t.Errorf("exit = %d, replies = %d", outcome.ExitCode, outcome.Replies)
	}
	if len(replies) != 1 || replies[0].Result != "done" || replies[0].SessionID != "sess-9" {
		t.Errorf("replies = %+v", replies)
	}
	if len(partial) != 1 || partial[0] != "working on it" {
		t.Errorf("partial = %q", partial)
	}
	if outcome.Duration <= 0 {
		t.Errorf("duration = %v, want positive", outcome.Duration)
	}
}

// echoInputScript repeats the stdin document back as a partial line,
// so the test can inspect exactly what the agent receives.
const echoInputScript = `head -n 1
echo "<<<NANOCLAW_REPLY>>>"
echo '{"status":"ok","result":"done"}'
echo "<<<NANOCLAW_REPLY_END>>>"
`

func TestRunnerInputDocumentCarriesIdentity(t *testing.T) {
	requireUnix(t)
	runner := newScriptRunner(t, echoInputScript, 30*time.Second, time.Second)

	var partial []string
	inv, err := runner.Start(context.Background(), RunSpec{}, Input{
		GroupFolder: "family",
		ChatID:      "family@g.us",
		IsMain:      true,
		Prompt:      "hi",
	}, Hooks{
		OnPartial: func(line string) { partial = append(partial, line) },
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := inv.CloseStdin(); err != nil {
		t.Fatalf("CloseStdin: %v", err)
	}
	if outcome := inv.Wait(); outcome.Kind != OutcomeSuccess {
		t.Fatalf("outcome = %s (%v), want success", outcome.Kind, outcome.Err)
	}
	if len(partial) != 1 {
		t.Fatalf("partial = %q, want the echoed input document", partial)
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(partial[0]), &doc); err != nil {
		t.Fatalf("input document is not JSON: %v", err)
	}
	if doc["group_folder"] != "family" || doc["chat_id"] != "family@g.us" || doc["is_main"] != true {
		t.Errorf("input document = %v, want group folder, chat id, and main flag", doc)
	}
}

func TestRunnerCrashed(t *testing.T) {
	requireUnix(t)
	runner := newScriptRunner(t, "cat >/dev/null; exit 3", 30*time.Second, time.Second)

	inv, err := runner.Start(context.Background(), RunSpec{}, Input{GroupFolder: "g"}, Hooks{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := inv.CloseStdin(); err != nil {
		t.Fatalf("CloseStdin: %v", err)
	}

	outcome := inv.Wait()
	if outcome.Kind != OutcomeCrashed {
		t.Fatalf("outcome = %s, want crashed", outcome.Kind)
	}
	if outcome.ExitCode != 3 {
		t.Errorf("exit = %d, want 3", outcome.ExitCode)
	}
}

func TestRunnerMalformed(t *testing.T) {
	requireUnix(t)
	runner := newScriptRunner(t, "cat >/dev/null; echo plain text only", 30*time.Second, time.Second)

	inv, err := runner.Start(context.Background(), RunSpec{}, Input{GroupFolder: "g"}, Hooks{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := inv.CloseStdin(); err != nil {
		t.Fatalf("CloseStdin: %v", err)
	}

	outcome := inv.Wait()
	if outcome.Kind != OutcomeMalformed {
		t.Fatalf("outcome = %s, want malformed", outcome.Kind)
	}
	if outcome.Err == nil {
		t.Error("malformed outcome carries no error")
	}
}

func TestRunnerTimeout(t *testing.T) {
	requireUnix(t)
	runner := newScriptRunner(t, "sleep 30", 100*time.Millisecond, 100*time.Millisecond)

	start := time.Now()
	inv, err := runner.Start(context.Background(), RunSpec{}, Input{GroupFolder: "g"}, Hooks{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	outcome := inv.Wait()
	if outcome.Kind != OutcomeTimeout {
		t.Fatalf("outcome = %s, want timeout", outcome.Kind)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("timeout took %v, terminate path did not fire", elapsed)
	}
}

func TestRunnerContextCancel(t *testing.T) {
	requireUnix(t)
	runner := newScriptRunner(t, "sleep 30", 30*time.Second, 100*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	inv, err := runner.Start(ctx, RunSpec{}, Input{GroupFolder: "g"}, Hooks{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()

	outcome := inv.Wait()
	if outcome.Kind != OutcomeCrashed {
		t.Fatalf("outcome = %s, want crashed", outcome.Kind)
	}
}

func TestRunnerDryRun(t *testing.T) {
	runner, err := NewRunner(RunnerConfig{
		Clock:   clock.Fake(time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)),
		Timeout: time.Minute,
		DryRun:  true,
	})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	var replies []Reply
	inv, err := runner.Start(context.Background(), RunSpec{}, Input{Prompt: "echo me", SessionID: "s"}, Hooks{
		OnReply: func(r Reply) { replies = append(replies, r) },
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	outcome := inv.Wait()
	if outcome.Kind != OutcomeSuccess {
		t.Fatalf("outcome = %s, want success", outcome.Kind)
	}
	if len(replies) != 1 || replies[0].Result != "echo me" || replies[0].SessionID != "s" {
		t.Errorf("replies = %+v", replies)
	}
}

func TestBreakerCooldown(t *testing.T) {
	fake := clock.Fake(time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC))
	b := newBreaker(fake)

	if ok, _ := b.allow(); !ok {
		t.Fatal("fresh breaker refuses spawns")
	}

	b.recordFailure()
	if ok, remaining := b.allow(); ok || remaining <= 0 {
		t.Fatalf("breaker open after failure: ok=%v remaining=%v", ok, remaining)
	}

	fake.Advance(breakerBaseCooldown)
	if ok, _ := b.allow(); !ok {
		t.Fatal("breaker still open after cooldown elapsed")
	}

	// Each consecutive failure doubles the cooldown, capped.
	for i := 0; i < 10; i++ {
		b.recordFailure()
	}
	_, remaining := b.allow()
	if remaining > breakerMaxCooldown {
		t.Errorf("cooldown %v exceeds cap %v", remaining, breakerMaxCooldown)
	}

	b.recordSuccess()
	if ok, _ := b.allow(); !ok {
		t.Fatal("breaker open after success")
	}
}

func TestRunnerBreakerRefusesDuringCooldown(t *testing.T) {
	requireUnix(t)
	// A nonexistent binary makes every spawn fail at Start.
	runner, err := NewRunner(RunnerConfig{
		Backend: failingBackend{},
		Clock:   clock.Real(),
		Timeout: time.Second,
	})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	if _, err := runner.Start(context.Background(), RunSpec{}, Input{}, Hooks{}); err == nil {
		t.Fatal("spawn of nonexistent binary succeeded")
	}

	_, err = runner.Start(context.Background(), RunSpec{}, Input{}, Hooks{})
	if !errors.Is(err, ErrBackendCooldown) {
		t.Fatalf("second start error = %v, want ErrBackendCooldown", err)
	}
}

type failingBackend struct{}

func (failingBackend) Name() string { return "failing" }

func (failingBackend) BuildArgv(RunSpec) ([]string, error) {
	return []string{"/nonexistent/nanoclaw-test-binary"}, nil
}
