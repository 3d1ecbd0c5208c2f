// Copyright (c) Liam Stanley <liam@liam.sh>. All rights reserved. Use of
// this source code is governed by the MIT license that can be found in
// the LICENSE file.

// Package timer owns every delayed callback the engine schedules: retry
// sleeps and admission-controller dequeue ticks. It guarantees that every
// scheduled callback fires exactly once, whether by natural expiry or by
// cancellation, so no awaiter is ever leaked.
package timer

import (
	"sync"
	"time"
)

// Handle lets the caller of Schedule cancel a pending callback.
type Handle struct {
	id       uint64
	reg      *Registry
	timer    *time.Timer
	once     sync.Once
	cancelFn func(cancelled bool)
}

// Cancel stops the timer if it has not already fired, invoking its callback
// with cancelled=true. It is safe to call more than once and from multiple
// goroutines; only the first call has any effect. Returns true if this call
// is the one that prevented the callback from firing naturally.
func (h *Handle) Cancel() bool {
	stopped := false
	h.once.Do(func() {
		stopped = h.timer.Stop()
		h.reg.remove(h.id)
		h.cancelFn(true)
	})
	return stopped
}

// entry is the bookkeeping Registry keeps per in-flight timer, for health
// reporting and bulk shutdown.
type entry struct {
	handle  *Handle
	isRetry bool
}

// Registry tracks every outstanding timer so the engine can report timer
// health (spec.md §3 Metrics) and guarantee a clean shutdown.
type Registry struct {
	mu         sync.Mutex
	active     map[uint64]*entry
	nextID     uint64
	isShutdown bool
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{active: make(map[uint64]*entry)}
}

// Schedule arranges for fn(cancelled) to be invoked exactly once, after
// delay, on its own goroutine, unless cancelled first via the returned
// Handle. If the registry has already been shut down, fn is invoked
// synchronously and immediately with cancelled=true, and a nil Handle is
// returned — so no caller is ever left awaiting a timer that will never
// fire.
//
// isRetryTimer marks the timer as counting toward the "active retry timers"
// half of the timer-health score; dequeue timers should pass false.
func (r *Registry) Schedule(delay time.Duration, isRetryTimer bool, fn func(cancelled bool)) *Handle {
	r.mu.Lock()
	if r.isShutdown {
		r.mu.Unlock()
		fn(true)
		return nil
	}

	id := r.nextID
	r.nextID++

	h := &Handle{id: id, reg: r, cancelFn: fn}
	r.active[id] = &entry{handle: h, isRetry: isRetryTimer}
	r.mu.Unlock()

	h.timer = time.AfterFunc(delay, func() {
		h.once.Do(func() {
			r.remove(id)
			fn(false)
		})
	})

	return h
}

func (r *Registry) remove(id uint64) {
	r.mu.Lock()
	delete(r.active, id)
	r.mu.Unlock()
}

// ActiveCount returns the number of timers currently outstanding.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// ActiveRetryCount returns the number of outstanding timers flagged as retry
// timers.
func (r *Registry) ActiveRetryCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.active {
		if e.isRetry {
			n++
		}
	}
	return n
}

// Shutdown cancels every outstanding timer (invoking each callback
// synchronously with cancelled=true) and rejects all subsequent Schedule
// calls the same way, until the Registry is discarded.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	r.isShutdown = true
	entries := make([]*entry, 0, len(r.active))
	for _, e := range r.active {
		entries = append(entries, e)
	}
	r.active = make(map[uint64]*entry)
	r.mu.Unlock()

	for _, e := range entries {
		h := e.handle
		h.once.Do(func() {
			h.timer.Stop()
			h.cancelFn(true)
		})
	}
}
