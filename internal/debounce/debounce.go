// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package debounce provides a cancellable single-slot timer.
//
// Scheduling a new function replaces whatever was pending, so only the most
// recent request fires. A generation counter makes sure a superseded function
// never runs even if its underlying time.Timer already fired and is waiting
// for the lock.
package debounce

import (
	"sync"
	"time"
)

// Timer holds at most one pending function. The zero value is ready to use.
type Timer struct {
	mu    sync.Mutex
	timer *time.Timer
	fn    func()
	gen   uint64
}

// Schedule arms the timer to call fn after delay, cancelling any pending call.
func (t *Timer) Schedule(fn func(), delay time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
	t.gen++
	gen := t.gen
	t.fn = fn
	t.timer = time.AfterFunc(delay, func() { t.fire(gen) })
}

// Stop cancels the pending call. It reports whether one was pending.
func (t *Timer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	pending := t.fn != nil
	t.stopLocked()
	t.gen++
	return pending
}

// Flush runs the pending call synchronously on the calling goroutine. It
// reports whether there was anything to run.
func (t *Timer) Flush() bool {
	t.mu.Lock()
	fn := t.fn
	t.stopLocked()
	t.gen++
	t.mu.Unlock()

	if fn == nil {
		return false
	}
	fn()
	return true
}

// Pending reports whether a call is armed.
func (t *Timer) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fn != nil
}

func (t *Timer) fire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || t.fn == nil {
		t.mu.Unlock()
		return
	}
	fn := t.fn
	t.fn = nil
	t.timer = nil
	t.mu.Unlock()

	fn()
}

func (t *Timer) stopLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.fn = nil
}

// =============================================================================
// KEYED TIMERS
// =============================================================================

// Group is a set of independent timers addressed by key, one slot per key.
type Group struct {
	mu     sync.Mutex
	timers map[string]*Timer
}

// Schedule arms the slot for key, replacing any pending call for that key.
func (g *Group) Schedule(key string, fn func(), delay time.Duration) {
	g.slot(key).Schedule(fn, delay)
}

// Stop cancels the pending call for key and forgets the slot.
func (g *Group) Stop(key string) bool {
	g.mu.Lock()
	t, ok := g.timers[key]
	delete(g.timers, key)
	g.mu.Unlock()
	if !ok {
		return false
	}
	return t.Stop()
}

// Pending reports whether key has an armed call.
func (g *Group) Pending(key string) bool {
	g.mu.Lock()
	t, ok := g.timers[key]
	g.mu.Unlock()
	return ok && t.Pending()
}

// StopAll cancels every pending call.
func (g *Group) StopAll() {
	g.mu.Lock()
	timers := g.timers
	g.timers = nil
	g.mu.Unlock()
	for _, t := range timers {
		t.Stop()
	}
}

func (g *Group) slot(key string) *Timer {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.timers == nil {
		g.timers = make(map[string]*Timer)
	}
	t, ok := g.timers[key]
	if !ok {
		t = &Timer{}
		g.timers[key] = t
	}
	return t
}
