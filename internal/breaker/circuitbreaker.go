// Copyright (c) Liam Stanley <liam@liam.sh>. All rights reserved. Use of
// this source code is governed by the MIT license that can be found in
// the LICENSE file.

// Package breaker implements the CLOSED/OPEN/HALF_OPEN circuit breaker
// described in spec.md §4.9, gating outbound calls once the number of
// consecutive failures reaches a threshold.
package breaker

import (
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// State is one of the breaker's three states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config configures a Breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures, while
	// CLOSED, that trips the breaker OPEN.
	FailureThreshold int
	// OpenTimeout is how long the breaker stays OPEN before allowing a
	// HALF_OPEN probe.
	OpenTimeout time.Duration
	// HalfOpenMax bounds how many probe calls may be admitted
	// concurrently while HALF_OPEN.
	HalfOpenMax int64
	// IsExcluded reports whether a failure's status code should be
	// excluded from the breaker's failure accounting (e.g. 501). Only
	// transport errors and 5xx statuses count as failures at all.
	IsExcluded func(statusCode int) bool
	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// Breaker implements the CLOSED/OPEN/HALF_OPEN state machine. The zero value
// is not usable; call New.
type Breaker struct {
	mu sync.Mutex

	failureThreshold int
	openTimeout      time.Duration
	isExcluded       func(int) bool
	now              func() time.Time

	state            State
	consecutiveFails int
	openedAt         time.Time

	halfOpen *semaphore.Weighted
}

// New creates a Breaker in the CLOSED state.
func New(cfg Config) *Breaker {
	isExcluded := cfg.IsExcluded
	if isExcluded == nil {
		isExcluded = func(int) bool { return false }
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	halfOpenMax := cfg.HalfOpenMax
	if halfOpenMax < 1 {
		halfOpenMax = 1
	}

	return &Breaker{
		failureThreshold: cfg.FailureThreshold,
		openTimeout:      cfg.OpenTimeout,
		isExcluded:       isExcluded,
		now:              now,
		state:            Closed,
		halfOpen:         semaphore.NewWeighted(halfOpenMax),
	}
}

// State returns the breaker's current state, first promoting OPEN to
// HALF_OPEN if openTimeout has elapsed since the trip.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpenLocked()
	return b.state
}

func (b *Breaker) maybeHalfOpenLocked() {
	if b.state == Open && b.now().Sub(b.openedAt) >= b.openTimeout {
		b.state = HalfOpen
	}
}

// Allow reports whether a call should be permitted, and if so returns a
// release func the caller must invoke (exactly once) with the call's
// outcome once it completes. Calls while OPEN (and not yet eligible for a
// HALF_OPEN probe) are rejected outright. While HALF_OPEN, at most
// HalfOpenMax concurrent probes are admitted; the rest are rejected.
func (b *Breaker) Allow() (release func(statusCode int, err error), allowed bool) {
	b.mu.Lock()
	b.maybeHalfOpenLocked()
	state := b.state
	b.mu.Unlock()

	switch state {
	case Closed:
		return func(statusCode int, err error) { b.report(statusCode, err) }, true
	case HalfOpen:
		if !b.halfOpen.TryAcquire(1) {
			return nil, false
		}
		return func(statusCode int, err error) {
			b.halfOpen.Release(1)
			b.report(statusCode, err)
		}, true
	default: // Open
		return nil, false
	}
}

// report records a completed call's outcome and drives state transitions.
func (b *Breaker) report(statusCode int, err error) {
	failed := err != nil || (statusCode != 0 && !b.isExcluded(statusCode) && statusCode >= 500)

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		if failed {
			b.tripLocked()
		} else {
			b.state = Closed
			b.consecutiveFails = 0
		}
	case Closed:
		if failed {
			b.consecutiveFails++
			if b.consecutiveFails >= b.failureThreshold {
				b.tripLocked()
			}
		} else {
			b.consecutiveFails = 0
		}
	case Open:
		// A straggling result from before the trip; ignore.
	}
}

func (b *Breaker) tripLocked() {
	b.state = Open
	b.openedAt = b.now()
	b.consecutiveFails = 0
}

// Reset forces the breaker back to CLOSED, clearing its failure count. The
// engine does not call it; manual replay leaves the breaker state as is.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.consecutiveFails = 0
}
