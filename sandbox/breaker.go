// Copyright 2026 The NanoClaw Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"sync"
	"time"

	"github.com/qwibitai/nanoclaw-sub016/lib/clock"
)

// breakerBaseCooldown is the cooldown after the first consecutive
// spawn failure; it doubles per failure up to breakerMaxCooldown.
const (
	breakerBaseCooldown = time.Second
	breakerMaxCooldown  = 30 * time.Second
)

// breaker is a circuit breaker for container spawns. Consecutive spawn
// failures open a cooldown window during which new spawns are refused
// immediately, so a broken backend (daemon down, image missing) does
// not get hammered once per queued message.
type breaker struct {
	clock clock.Clock

	mu        sync.Mutex
	failures  int
	openUntil time.Time
}

func newBreaker(clk clock.Clock) *breaker {
	return &breaker{clock: clk}
}

// allow reports whether a spawn may be attempted now. When refused,
// the remaining cooldown is returned.
func (b *breaker) allow() (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	if now.Before(b.openUntil) {
		return false, b.openUntil.Sub(now)
	}
	return true, 0
}

// recordFailure notes a failed spawn and extends the cooldown
// exponentially.
func (b *breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	cooldown := breakerBaseCooldown << (b.failures - 1)
	if cooldown > breakerMaxCooldown || cooldown <= 0 {
		cooldown = breakerMaxCooldown
	}
	b.openUntil = b.clock.Now().Add(cooldown)
}

// recordSuccess closes the breaker after a successful spawn.
func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.openUntil = time.Time{}
}
