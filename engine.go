// Copyright (c) Liam Stanley <liam@liam.sh>. All rights reserved. Use of
// this source code is governed by the MIT license that can be found in
// the LICENSE file.

// Package retryengine implements a client-side HTTP retry and
// admission-control middleware: bounded concurrency with priority
// scheduling, backoff-driven automatic retries, manual replay of failed
// requests, cancellation, and a composable plugin contract.
package retryengine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lrstanley/retryengine/internal/admission"
	"github.com/lrstanley/retryengine/internal/backoff"
	"github.com/lrstanley/retryengine/internal/breaker"
	"github.com/lrstanley/retryengine/internal/hooks"
	"github.com/lrstanley/retryengine/internal/retrypolicy"
	"github.com/lrstanley/retryengine/internal/store"
	"github.com/lrstanley/retryengine/internal/timer"
	"github.com/lrstanley/retryengine/logging/handlers"
)

// RequestOptions carries the per-request overrides spec.md §6 propagates
// "alongside the HTTP payload" — an explicit struct referenced by the
// request's context, rather than ad-hoc fields bolted onto *http.Request.
type RequestOptions struct {
	// ID, if set, reuses an existing descriptor's identity (used
	// internally by manual replay; callers normally leave this empty).
	ID string
	// Priority defaults to Medium.
	Priority Priority
	// MaxAttempts, if non-nil, overrides Config.Retries for this request.
	MaxAttempts *int
	// Mode, if non-nil, overrides Config.Mode for this request.
	Mode *Mode
	// BackoffOverride, if non-nil, overrides Config.BackoffType for this
	// request.
	BackoffOverride *backoff.Kind
	// RetryableStatusOverrides, if non-nil, overrides
	// Config.RetryableStatuses for this request.
	RetryableStatusOverrides []retrypolicy.StatusRange
}

type optionsContextKey struct{}

// WithOptions attaches opts to ctx so a subsequent Engine.RoundTrip call
// (e.g. through an *http.Client) can see it. Engine.Do takes opts directly
// and doesn't need this.
func WithOptions(ctx context.Context, opts RequestOptions) context.Context {
	return context.WithValue(ctx, optionsContextKey{}, opts)
}

func optionsFromContext(ctx context.Context) RequestOptions {
	if opts, ok := ctx.Value(optionsContextKey{}).(RequestOptions); ok {
		return opts
	}
	return RequestOptions{}
}

// Engine is the request lifecycle engine (spec.md §4.7). The zero value is
// not usable; call NewEngine.
type Engine struct {
	cfg     *Config
	policy  *retrypolicy.Policy
	timers  *timer.Registry
	admit   *admission.Controller[*RequestDescriptor]
	failed  *store.Store[*RequestDescriptor]
	cb      *breaker.Breaker
	bus     *hooks.Bus[*RequestDescriptor, MetricsSnapshot]
	m       *metrics
	plugins *pluginRegistry
	hist    *handlers.Historical

	mu                sync.Mutex
	activeRequests    map[string]*RequestDescriptor
	activeRetryTimers map[string]*timer.Handle
	inRetryProgress   bool
	criticalInFlight  int
	destroyed         bool
	outsideTransport  http.RoundTripper
}

// roundTripperFunc adapts a function to http.RoundTripper, the same
// single-method-interface-as-func idiom the Cache reference plugin uses.
type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

// NewEngine validates cfg (filling in defaults) and builds an Engine.
func NewEngine(cfg *Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var hist *handlers.Historical
	if cfg.Debug {
		hist = handlers.NewHistorical(500, slog.LevelDebug, cfg.Logger.Handler())
		cfg.Logger = slog.New(hist)
	}

	e := &Engine{
		cfg:               cfg,
		timers:            timer.New(),
		failed:            store.New[*RequestDescriptor](cfg.MaxRequestsToStore, nil),
		bus:               hooks.New[*RequestDescriptor, MetricsSnapshot](cfg.Logger, cfg.Hooks),
		m:                 newMetrics(),
		plugins:           newPluginRegistry(),
		hist:              hist,
		activeRequests:    make(map[string]*RequestDescriptor),
		activeRetryTimers: make(map[string]*timer.Handle),
	}
	e.failed = store.New[*RequestDescriptor](cfg.MaxRequestsToStore, e.onStoreEviction)

	e.policy = retrypolicy.New(retrypolicy.Config{
		RetryableStatuses:  cfg.RetryableStatuses,
		RetryableMethods:   cfg.RetryableMethods,
		Backoff:            cfg.BackoffType,
		IdempotencyHeaders: cfg.IdempotencyHeaders,
		MaxRateLimitDelay:  cfg.MaxRateLimitDelay,
	})

	maxConcurrent := cfg.MaxConcurrentRequests
	var maxQueueSize int
	if cfg.MaxQueueSize != nil {
		maxQueueSize = *cfg.MaxQueueSize
	}
	admitCtl, err := admission.New[*RequestDescriptor](admission.Config[*RequestDescriptor]{
		MaxConcurrent:     maxConcurrent,
		QueueDelay:        cfg.QueueDelay,
		MaxQueueSize:      maxQueueSize,
		IsCritical:        e.isCritical,
		HasActiveCritical: e.hasActiveCritical,
		Timers:            e.timers,
	})
	if err != nil {
		return nil, err
	}
	e.admit = admitCtl

	if cfg.CircuitBreaker != nil {
		e.cb = breaker.New(breaker.Config{
			FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
			OpenTimeout:      cfg.CircuitBreaker.OpenTimeout,
			HalfOpenMax:      cfg.CircuitBreaker.HalfOpenMax,
			IsExcluded:       cfg.CircuitBreaker.IsExcluded,
		})
	}

	return e, nil
}

func (e *Engine) isCritical(d *RequestDescriptor) bool {
	if e.cfg.BlockingQueueThreshold == nil {
		return false
	}
	return d.Priority() >= *e.cfg.BlockingQueueThreshold
}

func (e *Engine) hasActiveCritical() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.criticalInFlight > 0
}

func (e *Engine) onStoreEviction(d *RequestDescriptor) {
	e.bus.EmitRequestRemovedFromStore(d)
}

// Client returns an *http.Client whose Transport is this Engine, matching
// the teacher's NewClient convenience constructor. If any plugin registered
// with RegisterOptions{Outside: true}, its transport wrapping runs ahead of
// the engine's own admission/retry pipeline.
func (e *Engine) Client() *http.Client {
	e.mu.Lock()
	rt := e.outsideTransport
	e.mu.Unlock()
	if rt == nil {
		rt = e
	}
	return &http.Client{Transport: rt}
}

// RoundTrip implements http.RoundTripper by delegating to Do with any
// RequestOptions found on the request's context (see WithOptions).
func (e *Engine) RoundTrip(req *http.Request) (*http.Response, error) {
	return e.Do(req.Context(), req, optionsFromContext(req.Context()))
}

// Do runs req through the full lifecycle: admission, transport, and
// (for AUTOMATIC requests) retries, until a terminal outcome is reached.
func (e *Engine) Do(ctx context.Context, req *http.Request, opts RequestOptions) (*http.Response, error) {
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("retryengine: reading request body: %w", err)
		}
	}

	d := e.newDescriptor(req, opts, bodyBytes)

	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return nil, ErrQueueDestroyed
	}
	e.activeRequests[d.id] = d
	if e.isCritical(d) {
		e.criticalInFlight++
	}
	e.mu.Unlock()

	e.m.incTotal(d.priority)

	maxAttempts := *e.cfg.Retries
	if d.maxAttempts != nil {
		maxAttempts = *d.maxAttempts
	}
	mode := e.cfg.Mode
	if d.mode != nil {
		mode = *d.mode
	}

	for {
		waitStart := time.Now()
		_, err := e.admit.Enqueue(ctx, d)
		e.m.addQueueWait(time.Since(waitStart))

		if err != nil {
			return e.onAdmissionRejected(d, err)
		}

		resp, rtErr := e.callTransport(ctx, req, d, bodyBytes)
		e.admit.MarkComplete()

		if !isOutcomeFailure(resp, rtErr) {
			e.onSuccess(d)
			return resp, nil
		}

		canceled := errors.Is(rtErr, context.Canceled) || d.Canceled()
		if canceled {
			return e.onCanceled(d)
		}

		outcome := e.buildOutcome(req, resp, rtErr, d)
		attempt := d.attempt + 1

		// A fast-failed circuit-open attempt never obtained a real
		// response and would otherwise look identical to a retryable
		// network failure to Policy.IsRetryable; it must terminate the
		// loop instead of scheduling another attempt.
		var circuitOpenErr *CircuitOpenError
		fastFailed := errors.As(rtErr, &circuitOpenErr)

		if !fastFailed && mode == Automatic && e.policy.ShouldRetry(outcome, attempt, maxAttempts) {
			e.recordFailureMetrics(d, outcome)
			cancelled := e.scheduleRetrySleep(d, attempt, outcome)
			if cancelled {
				return e.onCanceled(d)
			}
			d.mu.Lock()
			d.attempt = attempt
			d.mu.Unlock()
			e.bus.EmitBeforeRetry(d)
			continue // re-enter admission for the next attempt.
		}

		e.recordFailureMetrics(d, outcome)
		return e.onTerminalFailure(d, outcome, resp, rtErr)
	}
}

func (e *Engine) newDescriptor(req *http.Request, opts RequestOptions, body []byte) *RequestDescriptor {
	id := opts.ID
	if id == "" {
		id = newRequestID(req.URL.String(), time.Now())
	}
	return &RequestDescriptor{
		id:                 id,
		priority:           opts.Priority,
		timestamp:          time.Now(),
		maxAttempts:        opts.MaxAttempts,
		mode:               opts.Mode,
		backoffOverride:    opts.BackoffOverride,
		retryableOverrides: opts.RetryableStatusOverrides,
		Method:             req.Method,
		URL:                req.URL.String(),
		Header:             req.Header.Clone(),
		Body:               body,
	}
}

func (e *Engine) callTransport(ctx context.Context, req *http.Request, d *RequestDescriptor, body []byte) (*http.Response, error) {
	attemptCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.retrying = d.attempt > 0
	d.cancel = cancel
	alreadyCanceled := d.canceled
	d.mu.Unlock()
	if alreadyCanceled {
		cancel()
	}
	defer cancel()

	clone := req.Clone(attemptCtx)
	if body != nil {
		clone.Body = io.NopCloser(bytes.NewReader(body))
		clone.ContentLength = int64(len(body))
	}

	if e.cfg.Debug || (e.cfg.TraceFunc != nil && e.cfg.TraceFunc(d)) {
		e.cfg.Logger.Debug("retryengine: issuing attempt",
			slog.String("id", d.id), slog.Int("attempt", d.attempt),
			slog.String("method", clone.Method), slog.String("url", clone.URL.String()))
	}

	if e.cb != nil {
		release, allowed := e.cb.Allow()
		if !allowed {
			return nil, &CircuitOpenError{Descriptor: d}
		}
		resp, err := e.cfg.BaseTransport.RoundTrip(clone)
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		release(status, err)
		return resp, err
	}

	return e.cfg.BaseTransport.RoundTrip(clone)
}

func isOutcomeFailure(resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	if resp == nil {
		return true
	}
	return resp.StatusCode >= 400
}

func (e *Engine) buildOutcome(req *http.Request, resp *http.Response, rtErr error, d *RequestDescriptor) retrypolicy.Outcome {
	o := retrypolicy.Outcome{
		Method:          d.Method,
		Headers:         d.Header,
		StatusOverrides: d.retryableOverrides,
	}
	if resp != nil {
		o.HasResponse = true
		o.StatusCode = resp.StatusCode
		o.ResponseHeaders = resp.Header
	}
	return o
}

func (e *Engine) classifyErrorKind(resp *http.Response, rtErr error) errorKind {
	switch {
	case rtErr != nil:
		return errorKindNetwork
	case resp == nil:
		return errorKindNetwork
	case resp.StatusCode >= 500:
		return errorKindServer5xx
	default:
		return errorKindClient4xx
	}
}

func (e *Engine) recordFailureMetrics(d *RequestDescriptor, outcome retrypolicy.Outcome) {
	if !d.Retrying() {
		return
	}
	kind := errorKindClient4xx
	if !outcome.HasResponse {
		kind = errorKindNetwork
	} else if outcome.StatusCode >= 500 {
		kind = errorKindServer5xx
	}
	e.m.incFailedRetry(d.priority, kind)
	e.bus.EmitAfterRetry(d, false)
}

// onAdmissionRejected handles every non-nil error Enqueue can return.
func (e *Engine) onAdmissionRejected(d *RequestDescriptor, err error) (*http.Response, error) {
	if errors.Is(err, admission.ErrQueueFull) {
		e.removeActive(d.id)
		return nil, &QueueFullError{Descriptor: d}
	}
	// QueueDestroyed, QueueCleared, RequestCanceled: all cancelled-in-queue.
	return e.onCanceled(d)
}

func (e *Engine) onSuccess(d *RequestDescriptor) {
	e.removeActive(d.id)
	wasCritical := e.isCritical(d)
	e.decrementCriticalIfNeeded(wasCritical)

	if d.Retrying() {
		e.m.incSuccessfulRetry(d.priority)
		e.bus.EmitAfterRetry(d, true)
		d.mu.Lock()
		d.retrying = false
		d.mu.Unlock()
	}
	if wasCritical && !e.hasActiveCritical() {
		e.bus.EmitAllCriticalRequestsResolved()
	}
	e.bus.EmitMetricsUpdated(e.Metrics())
	e.maybeFinalizeRetryProcess()
}

func (e *Engine) onCanceled(d *RequestDescriptor) (*http.Response, error) {
	e.removeActive(d.id)
	e.cancelRetryTimer(d.id)
	wasCritical := e.isCritical(d)
	e.decrementCriticalIfNeeded(wasCritical)

	e.m.incCanceled()
	e.bus.EmitRequestCancelled(d.id)
	e.bus.EmitMetricsUpdated(e.Metrics())
	e.maybeFinalizeRetryProcess()

	if !*e.cfg.ThrowErrorOnCancelRequest {
		return nil, nil
	}
	return nil, &RequestCanceledError{ID: d.id}
}

func (e *Engine) onTerminalFailure(d *RequestDescriptor, outcome retrypolicy.Outcome, resp *http.Response, rtErr error) (*http.Response, error) {
	d.mu.Lock()
	d.retrying = false
	d.mu.Unlock()

	e.bus.EmitFailure(d)

	if e.policy.IsRetryable(outcome) {
		e.failed.Add(d)
	}
	e.removeActive(d.id)

	if !outcome.HasResponse {
		e.bus.EmitInternetConnectionError(d)
	}

	wasCritical := e.isCritical(d)
	e.decrementCriticalIfNeeded(wasCritical)
	if wasCritical {
		e.bus.EmitCriticalRequestFailed()
		e.cancelAllQueued()
	}

	e.bus.EmitMetricsUpdated(e.Metrics())
	e.maybeFinalizeRetryProcess()

	// A real HTTP response was obtained (even if its status is a
	// failure); Go's http.RoundTripper contract returns it as-is with a
	// nil error, same as the teacher's RetryableTransport.
	if resp != nil {
		return resp, nil
	}

	if !*e.cfg.ThrowErrorOnFailedRetries {
		return nil, nil
	}
	if rtErr != nil {
		return nil, rtErr
	}
	return nil, errors.New("retryengine: request failed with no response")
}

// scheduleRetrySleep registers a cancellable sleep on the TimerRegistry and
// blocks until it fires or is cancelled (spec.md §4.7.1).
func (e *Engine) scheduleRetrySleep(d *RequestDescriptor, attempt int, outcome retrypolicy.Outcome) (cancelled bool) {
	e.mu.Lock()
	if !e.inRetryProgress {
		e.inRetryProgress = true
		e.mu.Unlock()
		e.bus.EmitRetryProcessStarted()
	} else {
		e.mu.Unlock()
	}

	delay := e.policy.GetDelay(attempt, d.backoffOverride, outcome.ResponseHeaders)

	done := make(chan bool, 1)
	h := e.timers.Schedule(delay, true, func(c bool) { done <- c })
	if h != nil {
		e.mu.Lock()
		e.activeRetryTimers[d.id] = h
		e.mu.Unlock()
	}

	cancelled = <-done

	e.mu.Lock()
	delete(e.activeRetryTimers, d.id)
	e.mu.Unlock()

	e.m.addRetryDelay(delay)
	e.m.incRetryAttempt(attempt)

	return cancelled
}

func (e *Engine) cancelRetryTimer(id string) {
	e.mu.Lock()
	h, ok := e.activeRetryTimers[id]
	delete(e.activeRetryTimers, id)
	e.mu.Unlock()
	if ok && h != nil {
		h.Cancel()
	}
}

func (e *Engine) removeActive(id string) {
	e.mu.Lock()
	delete(e.activeRequests, id)
	e.mu.Unlock()
}

func (e *Engine) decrementCriticalIfNeeded(wasCritical bool) {
	if !wasCritical {
		return
	}
	e.mu.Lock()
	if e.criticalInFlight > 0 {
		e.criticalInFlight--
	}
	e.mu.Unlock()
}

// maybeFinalizeRetryProcess implements spec.md §4.7 "Retry-process
// finalization": once activeRequests drains to empty while a retry process
// is underway, tally FailedStore contents and emit the finished event.
func (e *Engine) maybeFinalizeRetryProcess() {
	e.mu.Lock()
	if !e.inRetryProgress || len(e.activeRequests) > 0 {
		e.mu.Unlock()
		return
	}
	e.inRetryProgress = false
	e.mu.Unlock()

	entries := e.failed.GetAll()
	critical := 0
	for _, d := range entries {
		if e.isCritical(d) {
			critical++
		}
	}
	e.m.finalizeFailedStoreCounts(len(entries), critical)
	e.bus.EmitRetryProcessFinished(e.Metrics())
}

// cancelAllQueued cancels every request still waiting in the admission
// queue, as a cascading effect of a critical request's terminal failure
// (spec.md §4.7.2).
func (e *Engine) cancelAllQueued() {
	if e.admit.QueueLen() == 0 {
		return
	}
	e.mu.Lock()
	ids := make([]string, 0, len(e.activeRequests))
	for id := range e.activeRequests {
		ids = append(ids, id)
	}
	e.mu.Unlock()
	for _, id := range ids {
		e.admit.CancelQueued(id) // no-op for ids not currently queued.
	}
}

// CancelRequest aborts req id: its in-flight transport call (if any), its
// queued admission entry (if any), and its pending retry timer (if any).
// Idempotent. Returns whether id was known to the engine.
func (e *Engine) CancelRequest(id string) bool {
	e.mu.Lock()
	d, ok := e.activeRequests[id]
	e.mu.Unlock()
	if !ok {
		return false
	}
	d.Cancel()
	e.admit.CancelQueued(id)
	e.cancelRetryTimer(id)
	return true
}

// CancelAllRequests cancels every currently active request, in unspecified
// order (spec.md §5).
func (e *Engine) CancelAllRequests() {
	e.mu.Lock()
	ids := make([]string, 0, len(e.activeRequests))
	for id := range e.activeRequests {
		ids = append(ids, id)
	}
	e.mu.Unlock()
	for _, id := range ids {
		e.CancelRequest(id)
	}
}

// RetryFailedRequests drains the FailedStore and replays each entry
// concurrently through the full retry-scheduling path (spec.md §4.7
// "Manual replay"), using errgroup to fan out and collect results.
func (e *Engine) RetryFailedRequests(ctx context.Context) ([]*http.Response, error) {
	entries := e.failed.Clear()
	if len(entries) == 0 {
		return nil, nil
	}
	e.bus.EmitManualRetryProcessStarted()

	results := make([]*http.Response, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	for i, d := range entries {
		i, d := i, d
		g.Go(func() error {
			var body io.Reader
			if d.Body != nil {
				body = bytes.NewReader(d.Body)
			}
			req, err := http.NewRequestWithContext(gctx, d.Method, d.URL, body)
			if err != nil {
				return err
			}
			req.Header = d.Header.Clone()
			opts := RequestOptions{ID: d.id, Priority: d.priority, Mode: modePtr(Automatic)}
			resp, err := e.Do(gctx, req, opts)
			if err != nil {
				return err
			}
			results[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func modePtr(m Mode) *Mode { return &m }

// Metrics returns a read-only snapshot of engine-wide metrics (spec.md §3,
// §6).
func (e *Engine) Metrics() MetricsSnapshot {
	return e.m.snapshot(e.timers.ActiveCount(), e.timers.ActiveRetryCount())
}

// RecentLogs returns the most recent debug-level log entries recorded since
// construction. Empty unless Config.Debug is set.
func (e *Engine) RecentLogs() []slog.Record {
	if e.hist == nil {
		return nil
	}
	return e.hist.GetEntries()
}

// OnBeforeRetry registers a dynamic listener for the beforeRetry event — the
// third of HookBus's three dispatch tiers (spec.md §4.8). Returns an
// unsubscribe func.
func (e *Engine) OnBeforeRetry(fn func(d *RequestDescriptor)) (unsubscribe func()) {
	return e.bus.OnBeforeRetry(fn)
}

// OnAfterRetry registers a dynamic listener for the afterRetry event.
// Returns an unsubscribe func.
func (e *Engine) OnAfterRetry(fn func(d *RequestDescriptor, success bool)) (unsubscribe func()) {
	return e.bus.OnAfterRetry(fn)
}

// OnFailure registers a dynamic listener for the onFailure event. Returns an
// unsubscribe func.
func (e *Engine) OnFailure(fn func(d *RequestDescriptor)) (unsubscribe func()) {
	return e.bus.OnFailure(fn)
}

// OnMetricsUpdated registers a dynamic listener for the onMetricsUpdated
// event. Returns an unsubscribe func.
func (e *Engine) OnMetricsUpdated(fn func(m MetricsSnapshot)) (unsubscribe func()) {
	return e.bus.OnMetricsUpdated(fn)
}

// RegisterPlugin attaches p to the engine (spec.md §4.10).
func (e *Engine) RegisterPlugin(p Plugin, opts ...RegisterOptions) error {
	var ro RegisterOptions
	if len(opts) > 0 {
		ro = opts[0]
	}
	if err := e.plugins.register(p, ro); err != nil {
		return err
	}
	if hp, ok := p.(HookablePlugin); ok {
		e.bus.AttachPlugin(hp.Hooks())
	}
	// Transport wrapping is applied once, at registration time; plugins
	// are expected to register before traffic starts flowing through the
	// engine. A plain (inside) wrap sits between the retry loop and the
	// real transport, same as before. An Outside wrap instead sits in
	// front of Engine.RoundTrip itself, so it sees every retry attempt's
	// admission/queueing from outside rather than once per attempt —
	// Client() and RoundTrip's callers pick it up automatically; Do
	// called directly bypasses it, same as any other *http.Client
	// middleware installed ahead of a RoundTripper.
	if tp, ok := p.(TransportWrappingPlugin); ok {
		e.mu.Lock()
		if ro.Outside {
			base := e.outsideTransport
			if base == nil {
				base = roundTripperFunc(e.RoundTrip)
			}
			e.outsideTransport = tp.WrapTransport(base)
		} else {
			e.cfg.BaseTransport = tp.WrapTransport(e.cfg.BaseTransport)
		}
		e.mu.Unlock()
	}
	return p.Initialize(e)
}

// UnregisterPlugin detaches the named plugin, running its
// OnBeforeDestroyed hook first if it implements DestroyablePlugin.
func (e *Engine) UnregisterPlugin(name string) bool {
	reg, ok := e.plugins.unregister(name)
	if !ok {
		return false
	}
	if dp, ok := reg.plugin.(DestroyablePlugin); ok {
		dp.OnBeforeDestroyed(e)
	}
	if hp, ok := reg.plugin.(HookablePlugin); ok {
		e.bus.DetachPlugin(hp.Hooks())
	}
	return true
}

// Destroy cancels every active request and retry timer, shuts down the
// TimerRegistry and AdmissionController, and runs every plugin's
// OnBeforeDestroyed hook (spec.md §4.7 "Shutdown").
func (e *Engine) Destroy() {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	e.destroyed = true
	e.mu.Unlock()

	e.CancelAllRequests()

	for _, reg := range e.plugins.snapshot() {
		if dp, ok := reg.plugin.(DestroyablePlugin); ok {
			dp.OnBeforeDestroyed(e)
		}
	}

	e.admit.Destroy()
	e.timers.Shutdown()
}
