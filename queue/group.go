// Copyright 2026 The NanoClaw Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"errors"
	"fmt"
	"sync"

	"github.com/qwibitai/nanoclaw-sub016/lib/clock"
	"github.com/qwibitai/nanoclaw-sub016/sandbox"
	"github.com/qwibitai/nanoclaw-sub016/store"
)

// groupQueue serializes invocations for a single group. All state
// transitions happen on the loop goroutine; the mutex only guards the
// pending buffer, the group record, and the published state.
type groupQueue struct {
	manager *Manager

	mu      sync.Mutex
	group   store.Group
	pending []Message
	state   State

	// wake has capacity 1: enqueue signals it without blocking and
	// coalesced wakeups are fine because the loop drains pending.
	wake chan struct{}

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newGroupQueue(m *Manager, group store.Group) *groupQueue {
	return &groupQueue{
		manager: m,
		group:   group,
		state:   StateIdle,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (g *groupQueue) enqueue(group store.Group, message Message) {
	g.mu.Lock()
	g.group = group
	if len(g.pending) >= g.manager.maxPend {
		dropped := g.pending[0]
		g.pending = append(g.pending[:0], g.pending[1:]...)
		g.manager.rejected.Add(1)
		g.manager.logger.Warn("pending buffer full, dropping oldest message",
			"group", group.Folder,
			"sender", dropped.Sender,
		)
	}
	g.pending = append(g.pending, message)
	g.mu.Unlock()

	select {
	case g.wake <- struct{}{}:
	default:
	}
}

func (g *groupQueue) shutdown() {
	g.stopOnce.Do(func() { close(g.stop) })
}

func (g *groupQueue) currentState() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *groupQueue) setState(s State) {
	g.mu.Lock()
	g.state = s
	g.mu.Unlock()
}

func (g *groupQueue) snapshotGroup() store.Group {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.group
}

// takeBatch removes the next batch from the pending buffer. Scheduled
// task messages always run alone so isolated-context tasks never mix
// with chat turns; chat messages batch together up to the head of the
// next task message.
func (g *groupQueue) takeBatch() []Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.pending) == 0 {
		return nil
	}
	if g.pending[0].FromTask {
		batch := []Message{g.pending[0]}
		g.pending = append(g.pending[:0], g.pending[1:]...)
		return batch
	}
	n := 0
	for n < len(g.pending) && !g.pending[n].FromTask {
		n++
	}
	batch := make([]Message, n)
	copy(batch, g.pending[:n])
	g.pending = append(g.pending[:0], g.pending[n:]...)
	return batch
}

// takeFollowUps removes pending chat messages for delivery into an
// active process. Task messages stay queued: a task due while a
// process is active waits for the next invocation.
func (g *groupQueue) takeFollowUps() []Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []Message
	kept := g.pending[:0]
	for _, msg := range g.pending {
		if msg.FromTask {
			kept = append(kept, msg)
		} else {
			out = append(out, msg)
		}
	}
	g.pending = kept
	return out
}

// hasFollowUps reports whether any pending message is deliverable
// into the active process.
func (g *groupQueue) hasFollowUps() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, msg := range g.pending {
		if !msg.FromTask {
			return true
		}
	}
	return false
}

func (g *groupQueue) requeueFront(msgs []Message) {
	if len(msgs) == 0 {
		return
	}
	g.mu.Lock()
	g.pending = append(msgs, g.pending...)
	if len(g.pending) > g.manager.maxPend {
		over := len(g.pending) - g.manager.maxPend
		g.pending = g.pending[:g.manager.maxPend]
		g.manager.rejected.Add(uint64(over))
	}
	g.mu.Unlock()
}

func (g *groupQueue) loop() {
	defer close(g.done)
	m := g.manager

	// retried marks that the current batch already consumed its one
	// automatic retry.
	retried := false

	for {
		select {
		case <-g.stop:
			g.setState(StateIdle)
			return
		case <-m.ctx.Done():
			g.setState(StateIdle)
			return
		default:
		}

		batch := g.takeBatch()
		if len(batch) == 0 {
			g.setState(StateIdle)
			select {
			case <-g.wake:
				continue
			case <-g.stop:
				return
			case <-m.ctx.Done():
				return
			}
		}

		g.setState(StateStarting)
		if !m.acquireSlot(g.stop) {
			g.setState(StateIdle)
			return
		}
		delivered, outcome, runErr := g.runInvocation(batch)
		m.releaseSlot()

		switch {
		case runErr == nil && outcome.Kind == sandbox.OutcomeSuccess:
			m.completed.Add(1)
			retried = false
		case runErr == nil && outcome.Kind == sandbox.OutcomeMalformed:
			// The process exited cleanly without producing a reply.
			// Retrying the same prompt is unlikely to help.
			m.alert(g.snapshotGroup(), errors.New("queue: agent produced no reply"))
			retried = false
		default:
			err := runErr
			if err == nil {
				if outcome.Err != nil {
					err = fmt.Errorf("queue: invocation ended with %s: %w", outcome.Kind, outcome.Err)
				} else {
					err = fmt.Errorf("queue: invocation ended with %s", outcome.Kind)
				}
			}
			if !retried {
				retried = true
				m.retries.Add(1)
				m.logger.Warn("retrying failed invocation",
					"group", g.snapshotGroup().Folder,
					"error", err,
				)
				g.requeueFront(delivered)
				continue
			}
			m.alert(g.snapshotGroup(), err)
			retried = false
		}
	}
}

// runInvocation drives one process from Invoke through Done. It
// returns every message delivered to the process so a retry can
// replay the full batch.
func (g *groupQueue) runInvocation(batch []Message) (delivered []Message, outcome sandbox.Outcome, err error) {
	m := g.manager
	delivered = batch

	run, err := m.invoker.Invoke(m.ctx, g.snapshotGroup(), batch)
	if err != nil {
		return delivered, sandbox.Outcome{}, fmt.Errorf("queue: invoke: %w", err)
	}
	g.setState(StateActive)

	idleFired := make(chan struct{}, 1)
	var idleTimer *clock.Timer
	stopIdle := func() {
		if idleTimer != nil {
			idleTimer.Stop()
			idleTimer = nil
		}
	}
	startIdle := func() {
		stopIdle()
		idleTimer = m.clock.AfterFunc(m.idleWait, func() {
			select {
			case idleFired <- struct{}{}:
			default:
			}
		})
	}
	defer stopIdle()

	closing := false
	for {
		select {
		case <-run.Replies():
			if closing {
				continue
			}
			if g.hasFollowUps() {
				// A message arrived while the agent was working;
				// the wake case delivers it.
				continue
			}
			g.setState(StateIdleWait)
			startIdle()

		case <-idleFired:
			if closing {
				continue
			}
			closing = true
			stopIdle()
			g.setState(StateClosing)
			if cerr := run.Close(); cerr != nil {
				m.logger.Warn("closing agent stdin failed",
					"group", g.snapshotGroup().Folder,
					"error", cerr,
				)
			}

		case <-g.wake:
			if closing {
				// Too late for this process; the message runs in the
				// next invocation.
				continue
			}
			followUps := g.takeFollowUps()
			if len(followUps) == 0 {
				continue
			}
			stopIdle()
			g.setState(StateActive)
			for i, msg := range followUps {
				if derr := run.Deliver(m.ctx, msg); derr != nil {
					m.logger.Warn("delivering follow-up failed",
						"group", g.snapshotGroup().Folder,
						"error", derr,
					)
					g.requeueFront(followUps[i:])
					// Re-arm so the requeued messages are retried
					// without waiting for another external signal.
					select {
					case g.wake <- struct{}{}:
					default:
					}
					break
				}
				delivered = append(delivered, msg)
			}

		case outcome = <-run.Done():
			return delivered, outcome, nil

		case <-g.stop:
			g.setState(StateClosing)
			if cerr := run.Close(); cerr != nil {
				m.logger.Warn("closing agent stdin failed",
					"group", g.snapshotGroup().Folder,
					"error", cerr,
				)
			}
			outcome = <-run.Done()
			return delivered, outcome, nil
		}
	}
}
