// Copyright 2026 The NanoClaw Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/qwibitai/nanoclaw-sub016/lib/clock"
	"github.com/qwibitai/nanoclaw-sub016/store"
)

// DefaultIdleWait is the grace window after a reply during which the
// process stays open for follow-up messages.
const DefaultIdleWait = 20 * time.Second

// DefaultMaxPending bounds the per-group buffer of waiting messages.
const DefaultMaxPending = 128

// Config holds the parameters for creating a Manager.
type Config struct {
	// Invoker launches agent invocations.
	Invoker Invoker

	// Clock drives the idle-wait grace timer.
	Clock clock.Clock

	// Logger receives operational messages. Nil discards.
	Logger *slog.Logger

	// IdleWait is the grace window after a reply. Defaults to
	// DefaultIdleWait.
	IdleWait time.Duration

	// MaxPending bounds the per-group pending buffer; overflow drops
	// the oldest message. Defaults to DefaultMaxPending.
	MaxPending int

	// MaxConcurrent caps simultaneously running invocations across
	// all groups. Zero means unlimited.
	MaxConcurrent int

	// OnAlert is called when a group's invocation fails beyond the
	// automatic retry. Optional.
	OnAlert func(group store.Group, err error)
}

// Manager owns one queue per group and the global concurrency cap.
type Manager struct {
	invoker  Invoker
	clock    clock.Clock
	logger   *slog.Logger
	idleWait time.Duration
	maxPend  int
	onAlert  func(store.Group, error)

	// sem is the global concurrency cap. Nil means unlimited.
	sem chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	groups map[string]*groupQueue

	completed atomic.Uint64
	retries   atomic.Uint64
	failed    atomic.Uint64
	rejected  atomic.Uint64
}

// NewManager creates a queue manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Invoker == nil {
		return nil, fmt.Errorf("queue: Invoker is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("queue: Clock is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	idleWait := cfg.IdleWait
	if idleWait <= 0 {
		idleWait = DefaultIdleWait
	}
	maxPend := cfg.MaxPending
	if maxPend <= 0 {
		maxPend = DefaultMaxPending
	}

	var sem chan struct{}
	if cfg.MaxConcurrent > 0 {
		sem = make(chan struct{}, cfg.MaxConcurrent)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		invoker:  cfg.Invoker,
		clock:    cfg.Clock,
		logger:   logger,
		idleWait: idleWait,
		maxPend:  maxPend,
		onAlert:  cfg.OnAlert,
		sem:      sem,
		ctx:      ctx,
		cancel:   cancel,
		groups:   make(map[string]*groupQueue),
	}, nil
}

// Submit queues a message for a group's agent. Never blocks: the
// message lands in the group's pending buffer (dropping the oldest
// entry on overflow) and the group's goroutine is woken.
func (m *Manager) Submit(group store.Group, message Message) {
	m.mu.Lock()
	gq, ok := m.groups[group.Folder]
	if !ok {
		gq = newGroupQueue(m, group)
		m.groups[group.Folder] = gq
		go gq.loop()
	}
	m.mu.Unlock()

	gq.enqueue(group, message)
}

// GroupState reports a group's current lifecycle state. Unknown
// groups are Idle.
func (m *Manager) GroupState(folder string) State {
	m.mu.Lock()
	gq, ok := m.groups[folder]
	m.mu.Unlock()
	if !ok {
		return StateIdle
	}
	return gq.currentState()
}

// Remove stops a group's queue and waits for any active invocation to
// finish. Pending messages are discarded. Called on unregister.
func (m *Manager) Remove(folder string) {
	m.mu.Lock()
	gq, ok := m.groups[folder]
	delete(m.groups, folder)
	m.mu.Unlock()
	if !ok {
		return
	}
	gq.shutdown()
	<-gq.done
}

// Close stops all group queues and waits for active invocations to
// finish.
func (m *Manager) Close() {
	m.cancel()

	m.mu.Lock()
	queues := make([]*groupQueue, 0, len(m.groups))
	for _, gq := range m.groups {
		queues = append(queues, gq)
	}
	m.groups = make(map[string]*groupQueue)
	m.mu.Unlock()

	for _, gq := range queues {
		gq.shutdown()
	}
	for _, gq := range queues {
		<-gq.done
	}
}

// Counters returns a snapshot of manager-wide statistics.
func (m *Manager) Counters() Counters {
	return Counters{
		Completed: m.completed.Load(),
		Retries:   m.retries.Load(),
		Failed:    m.failed.Load(),
		Rejected:  m.rejected.Load(),
	}
}

// acquireSlot blocks until a global concurrency slot is free, the
// group is stopped, or the manager shuts down.
func (m *Manager) acquireSlot(stop <-chan struct{}) bool {
	if m.sem == nil {
		return true
	}
	select {
	case m.sem <- struct{}{}:
		return true
	case <-stop:
		return false
	case <-m.ctx.Done():
		return false
	}
}

func (m *Manager) releaseSlot() {
	if m.sem != nil {
		<-m.sem
	}
}

func (m *Manager) alert(group store.Group, err error) {
	m.failed.Add(1)
	m.logger.Error("group invocation failed permanently",
		"group", group.Folder,
		"error", err,
	)
	if m.onAlert != nil {
		m.onAlert(group, err)
	}
}
