// Copyright (c) Liam Stanley <liam@liam.sh>. All rights reserved. Use of
// this source code is governed by the MIT license that can be found in
// the LICENSE file.

// Package hooks implements the engine's typed lifecycle event bus
// (spec.md §4.8): one concrete payload type per event, rather than a
// variadic dynamic-dispatch bus.
package hooks

import (
	"fmt"
	"log/slog"
	"sync"
)

// Set holds every lifecycle callback an engine, a plugin, or a dynamic
// listener can implement. Any field left nil is simply skipped. This is the
// same "plain struct of nil-checked func fields" shape the teacher uses for
// its single RetryCallback, generalized to the engine's full event table.
type Set[D any, M any] struct {
	OnRetryProcessStarted         func()
	BeforeRetry                   func(d D)
	AfterRetry                    func(d D, success bool)
	OnFailure                     func(d D)
	OnRetryProcessFinished        func(m M)
	OnManualRetryProcessStarted   func()
	OnCriticalRequestFailed       func()
	OnAllCriticalRequestsResolved func()
	OnRequestCancelled            func(id string)
	OnRequestRemovedFromStore     func(d D)
	OnInternetConnectionError     func(d D)
	OnMetricsUpdated              func(m M)
}

// Bus fires each event, in order, to: the engine-level Set supplied at
// construction, every attached plugin's Set, then every dynamically
// registered listener. Each invocation is isolated: a panicking or
// otherwise misbehaving handler is recovered and logged so the remaining
// handlers for that event still run (spec.md §4.8, §7).
type Bus[D any, M any] struct {
	mu     sync.Mutex
	logger *slog.Logger

	engine  *Set[D, M]
	plugins []*Set[D, M]

	listeners struct {
		onRetryProcessStarted         []func()
		beforeRetry                   []func(D)
		afterRetry                    []func(D, bool)
		onFailure                     []func(D)
		onRetryProcessFinished        []func(M)
		onManualRetryProcessStarted   []func()
		onCriticalRequestFailed       []func()
		onAllCriticalRequestsResolved []func()
		onRequestCancelled            []func(string)
		onRequestRemovedFromStore     []func(D)
		onInternetConnectionError     []func(D)
		onMetricsUpdated              []func(M)
	}
}

// New creates a Bus. engineHooks may be nil.
func New[D any, M any](logger *slog.Logger, engineHooks *Set[D, M]) *Bus[D, M] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus[D, M]{logger: logger, engine: engineHooks}
}

// AttachPlugin registers a plugin's Set, appended after the engine hooks and
// before any dynamic listeners, preserving attach order among plugins.
func (b *Bus[D, M]) AttachPlugin(s *Set[D, M]) {
	if s == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.plugins = append(b.plugins, s)
}

// DetachPlugin removes a previously attached plugin Set.
func (b *Bus[D, M]) DetachPlugin(s *Set[D, M]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, p := range b.plugins {
		if p == s {
			b.plugins = append(b.plugins[:i], b.plugins[i+1:]...)
			return
		}
	}
}

func (b *Bus[D, M]) safeCall(event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("hook handler panicked", slog.String("event", event), slog.Any("recovered", fmt.Sprint(r)))
		}
	}()
	fn()
}

// OnBeforeRetry registers a dynamic listener, returning an unsubscribe func.
func (b *Bus[D, M]) OnBeforeRetry(fn func(D)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners.beforeRetry = append(b.listeners.beforeRetry, fn)
	idx := len(b.listeners.beforeRetry) - 1
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if idx < len(b.listeners.beforeRetry) {
			b.listeners.beforeRetry[idx] = nil
		}
	}
}

// OnAfterRetry registers a dynamic listener, returning an unsubscribe func.
func (b *Bus[D, M]) OnAfterRetry(fn func(D, bool)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners.afterRetry = append(b.listeners.afterRetry, fn)
	idx := len(b.listeners.afterRetry) - 1
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if idx < len(b.listeners.afterRetry) {
			b.listeners.afterRetry[idx] = nil
		}
	}
}

// OnFailure registers a dynamic listener, returning an unsubscribe func.
func (b *Bus[D, M]) OnFailure(fn func(D)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners.onFailure = append(b.listeners.onFailure, fn)
	idx := len(b.listeners.onFailure) - 1
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if idx < len(b.listeners.onFailure) {
			b.listeners.onFailure[idx] = nil
		}
	}
}

// OnMetricsUpdated registers a dynamic listener, returning an unsubscribe func.
func (b *Bus[D, M]) OnMetricsUpdated(fn func(M)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners.onMetricsUpdated = append(b.listeners.onMetricsUpdated, fn)
	idx := len(b.listeners.onMetricsUpdated) - 1
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if idx < len(b.listeners.onMetricsUpdated) {
			b.listeners.onMetricsUpdated[idx] = nil
		}
	}
}

// EmitRetryProcessStarted fires onRetryProcessStarted.
func (b *Bus[D, M]) EmitRetryProcessStarted() {
	if b.engine != nil && b.engine.OnRetryProcessStarted != nil {
		b.safeCall("onRetryProcessStarted", b.engine.OnRetryProcessStarted)
	}
	b.mu.Lock()
	plugins := append([]*Set[D, M]{}, b.plugins...)
	listeners := append([]func(){}, b.listeners.onRetryProcessStarted...)
	b.mu.Unlock()
	for _, p := range plugins {
		if p.OnRetryProcessStarted != nil {
			b.safeCall("onRetryProcessStarted", p.OnRetryProcessStarted)
		}
	}
	for _, l := range listeners {
		if l != nil {
			b.safeCall("onRetryProcessStarted", l)
		}
	}
}

// EmitBeforeRetry fires beforeRetry(d).
func (b *Bus[D, M]) EmitBeforeRetry(d D) {
	if b.engine != nil && b.engine.BeforeRetry != nil {
		b.safeCall("beforeRetry", func() { b.engine.BeforeRetry(d) })
	}
	b.mu.Lock()
	plugins := append([]*Set[D, M]{}, b.plugins...)
	listeners := append([]func(D){}, b.listeners.beforeRetry...)
	b.mu.Unlock()
	for _, p := range plugins {
		if p.BeforeRetry != nil {
			b.safeCall("beforeRetry", func() { p.BeforeRetry(d) })
		}
	}
	for _, l := range listeners {
		if l != nil {
			b.safeCall("beforeRetry", func() { l(d) })
		}
	}
}

// EmitAfterRetry fires afterRetry(d, success).
func (b *Bus[D, M]) EmitAfterRetry(d D, success bool) {
	if b.engine != nil && b.engine.AfterRetry != nil {
		b.safeCall("afterRetry", func() { b.engine.AfterRetry(d, success) })
	}
	b.mu.Lock()
	plugins := append([]*Set[D, M]{}, b.plugins...)
	listeners := append([]func(D, bool){}, b.listeners.afterRetry...)
	b.mu.Unlock()
	for _, p := range plugins {
		if p.AfterRetry != nil {
			b.safeCall("afterRetry", func() { p.AfterRetry(d, success) })
		}
	}
	for _, l := range listeners {
		if l != nil {
			b.safeCall("afterRetry", func() { l(d, success) })
		}
	}
}

// EmitFailure fires onFailure(d).
func (b *Bus[D, M]) EmitFailure(d D) {
	if b.engine != nil && b.engine.OnFailure != nil {
		b.safeCall("onFailure", func() { b.engine.OnFailure(d) })
	}
	b.mu.Lock()
	plugins := append([]*Set[D, M]{}, b.plugins...)
	listeners := append([]func(D){}, b.listeners.onFailure...)
	b.mu.Unlock()
	for _, p := range plugins {
		if p.OnFailure != nil {
			b.safeCall("onFailure", func() { p.OnFailure(d) })
		}
	}
	for _, l := range listeners {
		if l != nil {
			b.safeCall("onFailure", func() { l(d) })
		}
	}
}

// EmitRetryProcessFinished fires onRetryProcessFinished(metrics).
func (b *Bus[D, M]) EmitRetryProcessFinished(m M) {
	if b.engine != nil && b.engine.OnRetryProcessFinished != nil {
		b.safeCall("onRetryProcessFinished", func() { b.engine.OnRetryProcessFinished(m) })
	}
	b.mu.Lock()
	plugins := append([]*Set[D, M]{}, b.plugins...)
	b.mu.Unlock()
	for _, p := range plugins {
		if p.OnRetryProcessFinished != nil {
			b.safeCall("onRetryProcessFinished", func() { p.OnRetryProcessFinished(m) })
		}
	}
}

// EmitManualRetryProcessStarted fires onManualRetryProcessStarted.
func (b *Bus[D, M]) EmitManualRetryProcessStarted() {
	if b.engine != nil && b.engine.OnManualRetryProcessStarted != nil {
		b.safeCall("onManualRetryProcessStarted", b.engine.OnManualRetryProcessStarted)
	}
	b.mu.Lock()
	plugins := append([]*Set[D, M]{}, b.plugins...)
	b.mu.Unlock()
	for _, p := range plugins {
		if p.OnManualRetryProcessStarted != nil {
			b.safeCall("onManualRetryProcessStarted", p.OnManualRetryProcessStarted)
		}
	}
}

// EmitCriticalRequestFailed fires onCriticalRequestFailed.
func (b *Bus[D, M]) EmitCriticalRequestFailed() {
	if b.engine != nil && b.engine.OnCriticalRequestFailed != nil {
		b.safeCall("onCriticalRequestFailed", b.engine.OnCriticalRequestFailed)
	}
	b.mu.Lock()
	plugins := append([]*Set[D, M]{}, b.plugins...)
	b.mu.Unlock()
	for _, p := range plugins {
		if p.OnCriticalRequestFailed != nil {
			b.safeCall("onCriticalRequestFailed", p.OnCriticalRequestFailed)
		}
	}
}

// EmitAllCriticalRequestsResolved fires onAllCriticalRequestsResolved.
func (b *Bus[D, M]) EmitAllCriticalRequestsResolved() {
	if b.engine != nil && b.engine.OnAllCriticalRequestsResolved != nil {
		b.safeCall("onAllCriticalRequestsResolved", b.engine.OnAllCriticalRequestsResolved)
	}
	b.mu.Lock()
	plugins := append([]*Set[D, M]{}, b.plugins...)
	b.mu.Unlock()
	for _, p := range plugins {
		if p.OnAllCriticalRequestsResolved != nil {
			b.safeCall("onAllCriticalRequestsResolved", p.OnAllCriticalRequestsResolved)
		}
	}
}

// EmitRequestCancelled fires onRequestCancelled(id).
func (b *Bus[D, M]) EmitRequestCancelled(id string) {
	if b.engine != nil && b.engine.OnRequestCancelled != nil {
		b.safeCall("onRequestCancelled", func() { b.engine.OnRequestCancelled(id) })
	}
	b.mu.Lock()
	plugins := append([]*Set[D, M]{}, b.plugins...)
	b.mu.Unlock()
	for _, p := range plugins {
		if p.OnRequestCancelled != nil {
			b.safeCall("onRequestCancelled", func() { p.OnRequestCancelled(id) })
		}
	}
}

// EmitRequestRemovedFromStore fires onRequestRemovedFromStore(d).
func (b *Bus[D, M]) EmitRequestRemovedFromStore(d D) {
	if b.engine != nil && b.engine.OnRequestRemovedFromStore != nil {
		b.safeCall("onRequestRemovedFromStore", func() { b.engine.OnRequestRemovedFromStore(d) })
	}
	b.mu.Lock()
	plugins := append([]*Set[D, M]{}, b.plugins...)
	b.mu.Unlock()
	for _, p := range plugins {
		if p.OnRequestRemovedFromStore != nil {
			b.safeCall("onRequestRemovedFromStore", func() { p.OnRequestRemovedFromStore(d) })
		}
	}
}

// EmitInternetConnectionError fires onInternetConnectionError(d).
func (b *Bus[D, M]) EmitInternetConnectionError(d D) {
	if b.engine != nil && b.engine.OnInternetConnectionError != nil {
		b.safeCall("onInternetConnectionError", func() { b.engine.OnInternetConnectionError(d) })
	}
	b.mu.Lock()
	plugins := append([]*Set[D, M]{}, b.plugins...)
	b.mu.Unlock()
	for _, p := range plugins {
		if p.OnInternetConnectionError != nil {
			b.safeCall("onInternetConnectionError", func() { p.OnInternetConnectionError(d) })
		}
	}
}

// EmitMetricsUpdated fires onMetricsUpdated(metrics).
func (b *Bus[D, M]) EmitMetricsUpdated(m M) {
	if b.engine != nil && b.engine.OnMetricsUpdated != nil {
		b.safeCall("onMetricsUpdated", func() { b.engine.OnMetricsUpdated(m) })
	}
	b.mu.Lock()
	plugins := append([]*Set[D, M]{}, b.plugins...)
	listeners := append([]func(M){}, b.listeners.onMetricsUpdated...)
	b.mu.Unlock()
	for _, p := range plugins {
		if p.OnMetricsUpdated != nil {
			b.safeCall("onMetricsUpdated", func() { p.OnMetricsUpdated(m) })
		}
	}
	for _, l := range listeners {
		if l != nil {
			b.safeCall("onMetricsUpdated", func() { l(m) })
		}
	}
}
