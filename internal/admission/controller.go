// Copyright (c) Liam Stanley <liam@liam.sh>. All rights reserved. Use of
// this source code is governed by the MIT license that can be found in
// the LICENSE file.

// Package admission enforces bounded concurrency, queue-delay batching, and
// critical-request preemption ahead of the transport call (spec.md §4.6).
package admission

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lrstanley/retryengine/internal/pqueue"
	"github.com/lrstanley/retryengine/internal/timer"
)

// Sentinel errors returned by Enqueue and observed by its caller.
var (
	ErrQueueFull       = errors.New("admission: request queue is full")
	ErrQueueDestroyed  = errors.New("admission: queue has been destroyed")
	ErrQueueCleared    = errors.New("admission: queue was cleared")
	ErrRequestCanceled = errors.New("admission: request canceled while queued")
)

// admissionEntry wraps a caller's item with the channel used to deliver the
// admission (or rejection) result, while still satisfying pqueue.Item so the
// underlying heap can order on the caller's item directly.
type admissionEntry[T pqueue.Item] struct {
	item     T
	resultCh chan result[T]
}

func (e *admissionEntry[T]) QueueID() string           { return e.item.QueueID() }
func (e *admissionEntry[T]) QueuePriority() int        { return e.item.QueuePriority() }
func (e *admissionEntry[T]) QueueTimestamp() time.Time { return e.item.QueueTimestamp() }

type result[T any] struct {
	item T
	err  error
}

// Config configures a Controller.
type Config[T pqueue.Item] struct {
	// MaxConcurrent is the maximum number of admitted items in flight at
	// once. Must be >= 1.
	MaxConcurrent int
	// QueueDelay is how long scheduleDequeue defers each admission pass.
	// Zero still defers by one scheduling tick.
	QueueDelay time.Duration
	// MaxQueueSize, if > 0, bounds how many items may be queued at once.
	MaxQueueSize int
	// IsCritical reports whether item should preempt non-critical
	// admission.
	IsCritical func(T) bool
	// HasActiveCritical reports whether any critical item is currently
	// admitted (in flight), as tracked by the engine.
	HasActiveCritical func() bool
	// Timers is the shared timer registry used for the dequeue tick.
	Timers *timer.Registry
}

// Controller is the admission queue described in spec.md §4.6.
type Controller[T pqueue.Item] struct {
	mu                sync.Mutex
	maxConcurrent     int
	queueDelay        time.Duration
	maxQueueSize      int
	inFlight          int
	q                 *pqueue.Queue[*admissionEntry[T]]
	timers            *timer.Registry
	isCritical        func(T) bool
	hasActiveCritical func() bool
	destroyed         bool

	pendingDequeue *timer.Handle
	dequeueGen     uint64
}

// New creates a Controller. Returns an error if cfg.MaxConcurrent < 1.
func New[T pqueue.Item](cfg Config[T]) (*Controller[T], error) {
	if cfg.MaxConcurrent < 1 {
		return nil, errors.New("admission: maxConcurrent must be >= 1")
	}
	isCritical := cfg.IsCritical
	if isCritical == nil {
		isCritical = func(T) bool { return false }
	}
	hasActiveCritical := cfg.HasActiveCritical
	if hasActiveCritical == nil {
		hasActiveCritical = func() bool { return false }
	}
	timers := cfg.Timers
	if timers == nil {
		timers = timer.New()
	}

	return &Controller[T]{
		maxConcurrent:     cfg.MaxConcurrent,
		queueDelay:        cfg.QueueDelay,
		maxQueueSize:      cfg.MaxQueueSize,
		q:                 pqueue.New[*admissionEntry[T]](),
		timers:            timers,
		isCritical:        isCritical,
		hasActiveCritical: hasActiveCritical,
	}, nil
}

// Enqueue admits item once a concurrency slot is available and, if item is
// not critical, once no critical item is in flight. It blocks until
// admission, rejection (QueueFull is returned synchronously, without
// blocking), cancellation (via CancelQueued/Clear/Destroy), or ctx
// cancellation.
func (c *Controller[T]) Enqueue(ctx context.Context, item T) (T, error) {
	var zero T

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return zero, ErrQueueDestroyed
	}
	if c.maxQueueSize > 0 && c.q.Len() >= c.maxQueueSize {
		c.mu.Unlock()
		return zero, ErrQueueFull
	}
	e := &admissionEntry[T]{item: item, resultCh: make(chan result[T], 1)}
	c.q.Push(e)
	c.mu.Unlock()

	c.scheduleDequeue()

	select {
	case res := <-e.resultCh:
		return res.item, res.err
	case <-ctx.Done():
		c.CancelQueued(item.QueueID())
		res := <-e.resultCh
		return res.item, res.err
	}
}

// MarkComplete signals that an admitted item has finished (successfully,
// with error, or canceled), freeing a concurrency slot.
func (c *Controller[T]) MarkComplete() {
	c.mu.Lock()
	if c.inFlight > 0 {
		c.inFlight--
	}
	c.mu.Unlock()
	c.scheduleDequeue()
}

// InFlight returns the current in-flight count.
func (c *Controller[T]) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// QueueLen returns the current queue length.
func (c *Controller[T]) QueueLen() int {
	return c.q.Len()
}

// CancelQueued removes id from the queue, if present, rejecting its awaiter
// with ErrRequestCanceled. Returns whether anything was removed.
func (c *Controller[T]) CancelQueued(id string) bool {
	e, ok := c.q.RemoveByID(id)
	if !ok {
		return false
	}
	var zero T
	e.resultCh <- result[T]{item: zero, err: ErrRequestCanceled}
	return true
}

// Clear removes every queued item, rejecting each awaiter with
// ErrQueueCleared.
func (c *Controller[T]) Clear() {
	items := c.q.ClearAll()
	var zero T
	for _, e := range items {
		e.resultCh <- result[T]{item: zero, err: ErrQueueCleared}
	}
}

// Destroy cancels the pending dequeue timer, clears the queue (rejecting
// every awaiter with ErrQueueDestroyed), zeroes inFlight, and marks the
// controller destroyed so subsequent Enqueue calls fail immediately.
func (c *Controller[T]) Destroy() {
	c.mu.Lock()
	c.destroyed = true
	c.inFlight = 0
	old := c.pendingDequeue
	c.pendingDequeue = nil
	c.dequeueGen++
	c.mu.Unlock()

	if old != nil {
		old.Cancel()
	}

	items := c.q.ClearAll()
	var zero T
	for _, e := range items {
		e.resultCh <- result[T]{item: zero, err: ErrQueueDestroyed}
	}
}

// scheduleDequeue implements spec.md §4.6's "scheduleDequeue protocol": at
// most one pending dequeue timer exists at a time (a new call coalesces any
// existing one), and every fire attempts to admit as many queued items as
// maxConcurrent and critical-preemption allow.
//
// The previous pending timer is canceled outside the controller's lock; a
// canceled dequeue callback returns without admitting anything.
func (c *Controller[T]) scheduleDequeue() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.dequeueGen++
	gen := c.dequeueGen
	old := c.pendingDequeue
	c.pendingDequeue = nil
	delay := c.queueDelay
	c.mu.Unlock()

	if old != nil {
		old.Cancel()
	}

	h := c.timers.Schedule(delay, false, func(cancelled bool) {
		if cancelled {
			return
		}
		c.mu.Lock()
		if gen != c.dequeueGen {
			c.mu.Unlock()
			return // superseded by a later scheduleDequeue call.
		}
		c.pendingDequeue = nil
		c.mu.Unlock()
		c.runDequeue()
	})

	c.mu.Lock()
	if gen == c.dequeueGen && !c.destroyed {
		c.pendingDequeue = h
		c.mu.Unlock()
	} else {
		c.mu.Unlock()
		if h != nil {
			h.Cancel()
		}
	}
}

// runDequeue admits as many queued items as possible under maxConcurrent and
// critical-preemption, per spec.md §4.6 step 3.
func (c *Controller[T]) runDequeue() {
	for {
		c.mu.Lock()
		if c.destroyed || c.inFlight >= c.maxConcurrent {
			c.mu.Unlock()
			return
		}
		top, ok := c.q.Peek()
		if !ok {
			c.mu.Unlock()
			return
		}

		critical := c.isCritical(top.item)
		if !critical && c.hasActiveCritical() {
			c.mu.Unlock()
			return // non-critical items stay queued while a critical item is in flight.
		}

		popped, _ := c.q.Pop()
		c.inFlight++
		c.mu.Unlock()

		popped.resultCh <- result[T]{item: popped.item, err: nil}
	}
}
