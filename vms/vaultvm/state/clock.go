// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"sync"
	"time"
)

// Clock is the execution context of a network: the wall clock that drives
// vesting and cooldown timers plus the height of the block being built.
// It can be faked for tests and is safe for concurrent use.
type Clock struct {
	mu     sync.RWMutex
	faked  bool
	time   time.Time
	height uint64
}

// Set fixes the clock to [t].
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faked = true
	c.time = t
}

// Advance moves a faked clock forward by [d]. An unfaked clock is first
// pinned to the current time.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.faked {
		c.faked = true
		c.time = time.Now()
	}
	c.time = c.time.Add(d)
}

// Sync this clock with global time
func (c *Clock) Sync() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faked = false
}

// Time returns the time on this clock
func (c *Clock) Time() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.faked {
		return c.time
	}
	return time.Now()
}

// Unix returns the unix timestamp on this clock.
func (c *Clock) Unix() uint64 {
	return uint64(max(c.Time().Unix(), 0))
}

// Height returns the height of the block currently being executed.
func (c *Clock) Height() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.height
}

// AdvanceBlock moves to a new block [n] heights later. Per-block counters
// reset on the first call observed at the new height.
func (c *Clock) AdvanceBlock(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.height += n
}
