// Copyright (c) Liam Stanley <liam@liam.sh>. All rights reserved. Use of
// this source code is governed by the MIT license that can be found in
// the LICENSE file.

package handlers

import (
	"context"
	"log/slog"
	"sync"
)

var _ slog.Handler = (*Historical)(nil) // Ensure we implement the [log/slog.Handler] interface.

// Historical stores the last X log entries in memory while wrapping another
// handler. Config.Debug wires this in so Engine.RecentLogs callers can inspect
// recent attempt-level activity without standing up an external log sink.
type Historical struct {
	handler     slog.Handler
	maxEntries  int
	minLevel    slog.Level
	mu          sync.RWMutex
	entries     []slog.Record
	onAddedHook func()
}

// NewHistorical creates a new [log/slog.Handler] that stores the last
// maxEntries log entries in memory. Entries below minLevel are still passed
// to the wrapped handler but are not stored in memory.
func NewHistorical(maxEntries int, minLevel slog.Level, handler slog.Handler) *Historical {
	return &Historical{
		handler:    handler,
		maxEntries: maxEntries,
		minLevel:   minLevel,
		entries:    make([]slog.Record, 0, maxEntries),
	}
}

// WithOnAddedHook sets a hook called (in a new goroutine) whenever a new log
// entry is added.
func (h *Historical) WithOnAddedHook(hook func()) *Historical {
	h.mu.Lock()
	h.onAddedHook = hook
	h.mu.Unlock()
	return h
}

// Enabled checks if the wrapped handler is enabled for the given level.
func (h *Historical) Enabled(ctx context.Context, l slog.Level) bool {
	return h.handler.Enabled(ctx, l)
}

// Handle stores the log record in memory (if level >= minLevel) and passes
// it to the wrapped handler, trimming from the front once maxEntries is
// exceeded.
func (h *Historical) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= h.minLevel {
		cloned := r.Clone()
		h.mu.Lock()
		h.entries = append(h.entries, cloned)
		if len(h.entries) > h.maxEntries {
			h.entries = h.entries[len(h.entries)-h.maxEntries:]
		}
		h.mu.Unlock()

		h.mu.RLock()
		fn := h.onAddedHook
		h.mu.RUnlock()
		if fn != nil {
			go fn()
		}
	}

	return h.handler.Handle(ctx, r)
}

// WithAttrs creates a new handler with additional attributes added to the
// wrapped handler.
func (h *Historical) WithAttrs(attrs []slog.Attr) slog.Handler {
	return NewHistorical(h.maxEntries, h.minLevel, h.handler.WithAttrs(attrs))
}

// WithGroup creates a new handler with a group name applied to the wrapped
// handler.
func (h *Historical) WithGroup(name string) slog.Handler {
	return NewHistorical(h.maxEntries, h.minLevel, h.handler.WithGroup(name))
}

// GetEntries returns all stored log entries in chronological order (oldest
// first). Callers that need to mutate an entry should copy it first.
func (h *Historical) GetEntries() []slog.Record {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]slog.Record, len(h.entries))
	copy(out, h.entries)
	return out
}

// Count returns the number of entries currently stored.
func (h *Historical) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}
