// Copyright (c) Liam Stanley <liam@liam.sh>. All rights reserved. Use of
// this source code is governed by the MIT license that can be found in
// the LICENSE file.

package retryengine

import (
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lrstanley/retryengine/internal/backoff"
	"github.com/lrstanley/retryengine/internal/retrypolicy"
)

// Priority is a request's admission priority. Higher values preempt lower
// ones in the admission queue (spec.md §3).
type Priority int

const (
	Low Priority = iota
	Medium
	High
	Critical
)

func (p Priority) String() string {
	switch p {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

// Mode selects whether a request's failures are retried automatically or
// left for manual replay (spec.md §3).
type Mode int

const (
	Automatic Mode = iota
	Manual
)

var requestSeq atomic.Uint64

// newRequestID builds a stable, sortable id: a short URL-derived prefix,
// the current Unix-nano timestamp, and a monotonic index, per spec.md §3
// ("generated from URL prefix + timestamp + monotonic index").
func newRequestID(rawURL string, now time.Time) string {
	prefix := "req"
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		prefix = u.Host
	}
	return fmt.Sprintf("%s-%d-%d", prefix, now.UnixNano(), requestSeq.Add(1))
}

// RequestDescriptor is the engine's record of one logical request across
// every retry attempt (spec.md §3). The engine is the only mutator; callers
// observe it read-only via the accessor methods.
type RequestDescriptor struct {
	mu sync.Mutex

	id                 string
	priority           Priority
	timestamp          time.Time
	attempt            int
	maxAttempts        *int
	mode               *Mode
	retryableOverrides []retrypolicy.StatusRange
	backoffOverride    *backoff.Kind

	retrying bool
	cancel   func()
	canceled bool

	// Payload, opaque to every component except the transport.
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// QueueID, QueuePriority, and QueueTimestamp satisfy pqueue.Item.
func (d *RequestDescriptor) QueueID() string          { return d.id }
func (d *RequestDescriptor) QueuePriority() int       { return int(d.priority) }
func (d *RequestDescriptor) QueueTimestamp() time.Time { return d.timestamp }

// StoreID satisfies store.Entry.
func (d *RequestDescriptor) StoreID() string { return d.id }

// ID returns the descriptor's stable identifier, unchanged across retries.
func (d *RequestDescriptor) ID() string { return d.id }

// Priority returns the descriptor's admission priority.
func (d *RequestDescriptor) Priority() Priority { return d.priority }

// Attempt returns the current attempt number (0 = initial call).
func (d *RequestDescriptor) Attempt() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempt
}

// Retrying reports whether an attempt > 0 is currently in flight.
func (d *RequestDescriptor) Retrying() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.retrying
}

// Cancel invokes the descriptor's bound cancellation capability, if any,
// and marks it canceled. Safe to call more than once.
func (d *RequestDescriptor) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.canceled {
		return
	}
	d.canceled = true
	if d.cancel != nil {
		d.cancel()
	}
}

// Canceled reports whether Cancel has been invoked for this descriptor.
func (d *RequestDescriptor) Canceled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.canceled
}
