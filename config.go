// Copyright (c) Liam Stanley <liam@liam.sh>. All rights reserved. Use of
// this source code is governed by the MIT license that can be found in
// the LICENSE file.

package retryengine

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/lrstanley/retryengine/internal/backoff"
	"github.com/lrstanley/retryengine/internal/hooks"
	"github.com/lrstanley/retryengine/internal/retrypolicy"
)

// Config is the engine-wide configuration (spec.md §6). The zero value is
// not valid; pass it through Validate (NewEngine does this for you).
type Config struct {
	// BaseTransport is the real transport calls are eventually issued
	// against. Defaults to http.DefaultTransport.
	BaseTransport http.RoundTripper

	// Mode is the default retry mode for requests that don't override it.
	// Defaults to Automatic.
	Mode Mode

	// Retries is the default max retry attempts. Must be >= 0; zero means
	// no retries are attempted. A nil pointer (the zero value) defaults
	// to 3 — use IntPtr(0) to explicitly request zero retries instead of
	// picking up the default.
	Retries *int

	// MaxConcurrentRequests bounds in-flight transport calls. Must be >=
	// 1. Defaults to 5.
	MaxConcurrentRequests int

	// QueueDelay defers each admission pass. Defaults to 100ms.
	QueueDelay time.Duration

	// MaxQueueSize, if non-nil, bounds how many requests may wait in the
	// admission queue at once.
	MaxQueueSize *int

	// MaxRequestsToStore bounds the FailedStore. Defaults to 200.
	MaxRequestsToStore int

	// BlockingQueueThreshold, if non-nil, marks any request at or above
	// this priority as critical. Nil (the default) disables criticality
	// entirely (SPEC_FULL.md §6, Open Question 3).
	BlockingQueueThreshold *Priority

	// RetryableStatuses defaults to 408, 429, 500, 502, 503, 504, and
	// 520-527.
	RetryableStatuses []retrypolicy.StatusRange

	// RetryableMethods defaults to GET, HEAD, OPTIONS.
	RetryableMethods []string

	// IdempotencyHeaders defaults to []string{"Idempotency-Key"}.
	IdempotencyHeaders []string

	// BackoffType defaults to Exponential.
	BackoffType backoff.Kind

	// MaxRateLimitDelay caps a Retry-After-derived delay (SPEC_FULL.md §5
	// item 1). Defaults to 1 minute.
	MaxRateLimitDelay time.Duration

	// ThrowErrorOnFailedRetries, if set to false, resolves failed
	// requests with a nil error instead of surfacing it to the caller.
	// A nil pointer (the zero value) defaults to true.
	ThrowErrorOnFailedRetries *bool

	// ThrowErrorOnCancelRequest, if set to false, resolves canceled
	// requests with a nil error. A nil pointer (the zero value) defaults
	// to true.
	ThrowErrorOnCancelRequest *bool

	// CircuitBreaker, if non-nil, is consulted around every transport
	// attempt (spec.md §4.9). Nil disables the breaker.
	CircuitBreaker *CircuitBreakerConfig

	// Debug enables the in-memory historical log ring buffer
	// (SPEC_FULL.md §3.1).
	Debug bool

	// TraceFunc, when non-nil, lets the caller opt a subset of requests
	// into verbose request/response logging regardless of Debug
	// (SPEC_FULL.md §5 item 2).
	TraceFunc func(*RequestDescriptor) bool

	// Logger receives structured lifecycle logs. Defaults to
	// slog.Default().
	Logger *slog.Logger

	// Hooks, if non-nil, is the engine-level lifecycle callback set —
	// the first of HookBus's three dispatch tiers (engine hook, then
	// plugin hooks, then dynamic listeners registered through Engine's
	// OnXxx methods; spec.md §4.8). Nil means no engine-level hooks.
	Hooks *hooks.Set[*RequestDescriptor, MetricsSnapshot]
}

// CircuitBreakerConfig configures the optional circuit breaker (spec.md
// §4.9).
type CircuitBreakerConfig struct {
	FailureThreshold int
	OpenTimeout      time.Duration
	HalfOpenMax      int64
	IsExcluded       func(statusCode int) bool
}

// DefaultRetryableStatuses is the spec.md §6 default retryable status set:
// 408, 429, 500, 502, 503, 504, and the 520-527 range.
func DefaultRetryableStatuses() []retrypolicy.StatusRange {
	return []retrypolicy.StatusRange{
		{Min: 408, Max: 408},
		{Min: 429, Max: 429},
		{Min: 500, Max: 500},
		{Min: 502, Max: 504},
		{Min: 520, Max: 527},
	}
}

// Validate fills in every unset field with its documented default and
// reports any invalid setting. Panics only if c is nil, matching the
// teacher's retry.Config.Validate contract.
func (c *Config) Validate() error {
	if c == nil {
		panic("retryengine: Config cannot be nil")
	}

	if c.Retries == nil {
		c.Retries = IntPtr(3)
	}
	if *c.Retries < 0 {
		return errConfig("Retries must be >= 0")
	}
	if c.MaxConcurrentRequests < 0 {
		return errConfig("MaxConcurrentRequests must be >= 0")
	}
	if c.MaxConcurrentRequests == 0 {
		c.MaxConcurrentRequests = 5
	}
	if c.BaseTransport == nil {
		c.BaseTransport = http.DefaultTransport
	}
	if c.QueueDelay == 0 {
		c.QueueDelay = 100 * time.Millisecond
	}
	if c.MaxRequestsToStore <= 0 {
		c.MaxRequestsToStore = 200
	}
	if len(c.RetryableStatuses) == 0 {
		c.RetryableStatuses = DefaultRetryableStatuses()
	}
	if len(c.RetryableMethods) == 0 {
		c.RetryableMethods = []string{http.MethodGet, http.MethodHead, http.MethodOptions}
	}
	if len(c.IdempotencyHeaders) == 0 {
		c.IdempotencyHeaders = []string{"Idempotency-Key"}
	}
	if c.MaxRateLimitDelay <= 0 {
		c.MaxRateLimitDelay = time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.ThrowErrorOnFailedRetries == nil {
		c.ThrowErrorOnFailedRetries = boolPtr(true)
	}
	if c.ThrowErrorOnCancelRequest == nil {
		c.ThrowErrorOnCancelRequest = boolPtr(true)
	}

	return nil
}

func boolPtr(b bool) *bool { return &b }

// IntPtr is a small convenience helper for the *int config fields (Retries,
// MaxQueueSize) that distinguish "unset" from "explicitly zero".
func IntPtr(i int) *int { return &i }

// errConfig is a small sentinel type so configuration errors can be told
// apart from transport or retry errors via errors.As, without introducing
// a dependency on a wrapping-errors library the teacher doesn't use.
type errConfig string

func (e errConfig) Error() string { return "retryengine: invalid config: " + string(e) }
