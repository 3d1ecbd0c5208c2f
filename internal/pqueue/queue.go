// Copyright (c) Liam Stanley <liam@liam.sh>. All rights reserved. Use of
// this source code is governed by the MIT license that can be found in
// the LICENSE file.

// Package pqueue implements the admission queue's binary heap: higher
// priority first, ties broken by earlier timestamp, then by insertion order.
package pqueue

import (
	"container/heap"
	"sort"
	"sync"
	"time"
)

// Item is anything the Queue can order and address by id.
type Item interface {
	QueueID() string
	QueuePriority() int
	QueueTimestamp() time.Time
}

// entry pairs an Item with the monotonic insertion-order counter used to
// break priority/timestamp ties.
type entry[T Item] struct {
	item  T
	order uint64
}

func less[T Item](a, b *entry[T]) bool {
	ap, bp := a.item.QueuePriority(), b.item.QueuePriority()
	if ap != bp {
		return ap > bp // higher priority first.
	}
	at, bt := a.item.QueueTimestamp(), b.item.QueueTimestamp()
	if !at.Equal(bt) {
		return at.Before(bt) // earlier timestamp first.
	}
	return a.order < b.order // lower insertion order first.
}

// heapSlice implements container/heap.Interface over entry[T]. Kept
// unexported: all access goes through Queue, which holds the lock.
type heapSlice[T Item] struct {
	entries []*entry[T]
}

func (h *heapSlice[T]) Len() int           { return len(h.entries) }
func (h *heapSlice[T]) Less(i, j int) bool { return less(h.entries[i], h.entries[j]) }
func (h *heapSlice[T]) Swap(i, j int)      { h.entries[i], h.entries[j] = h.entries[j], h.entries[i] }

func (h *heapSlice[T]) Push(x any) {
	h.entries = append(h.entries, x.(*entry[T])) //nolint:errcheck
}

func (h *heapSlice[T]) Pop() any {
	old := h.entries
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	h.entries = old[:n-1]
	return e
}

// Queue is a thread-safe priority queue. The zero value is not usable; call
// New.
type Queue[T Item] struct {
	mu      sync.Mutex
	h       *heapSlice[T]
	counter uint64
}

// New creates an empty Queue.
func New[T Item]() *Queue[T] {
	return &Queue[T]{h: &heapSlice[T]{}}
}

// Push inserts item, O(log n).
func (q *Queue[T]) Push(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	heap.Push(q.h, &entry[T]{item: item, order: q.counter})
	q.counter++
}

// Pop removes and returns the highest-priority item, O(log n).
func (q *Queue[T]) Pop() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.h.Len() == 0 {
		return item, false
	}
	e := heap.Pop(q.h).(*entry[T]) //nolint:errcheck
	return e.item, true
}

// Peek returns the highest-priority item without removing it, O(1).
func (q *Queue[T]) Peek() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.h.Len() == 0 {
		return item, false
	}
	return q.h.entries[0].item, true
}

// RemoveByID removes the item with the given id, if present, O(n): it scans
// for the matching entry, then restores heap order by sifting both up and
// down from the vacated index (via heap.Remove).
func (q *Queue[T]) RemoveByID(id string) (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.h.entries {
		if e.item.QueueID() == id {
			removed := heap.Remove(q.h, i).(*entry[T]) //nolint:errcheck
			return removed.item, true
		}
	}
	return item, false
}

// ClearAll removes and returns every item, in arbitrary (heap) order, for
// bulk cancellation.
func (q *Queue[T]) ClearAll() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]T, len(q.h.entries))
	for i, e := range q.h.entries {
		out[i] = e.item
	}
	q.h.entries = nil
	return out
}

// Snapshot returns every item in priority order (not heap-array order),
// without removing any of them. Intended for diagnostics.
func (q *Queue[T]) Snapshot() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	sorted := make([]*entry[T], len(q.h.entries))
	copy(sorted, q.h.entries)
	sort.Slice(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })

	out := make([]T, len(sorted))
	for i, e := range sorted {
		out[i] = e.item
	}
	return out
}

// Len returns the number of items currently queued.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Len()
}
