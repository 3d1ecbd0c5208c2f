// Copyright (c) Liam Stanley <liam@liam.sh>. All rights reserved. Use of
// this source code is governed by the MIT license that can be found in
// the LICENSE file.

// Package retrypolicy decides whether a failed HTTP attempt should be
// retried, and how long to wait before the next attempt.
package retrypolicy

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lrstanley/retryengine/internal/backoff"
)

// StatusRange is an inclusive range of HTTP status codes. A single code is
// represented as Min == Max.
type StatusRange struct {
	Min, Max int
}

// Contains reports whether code falls within the range.
func (r StatusRange) Contains(code int) bool {
	return code >= r.Min && code <= r.Max
}

// Status returns a StatusRange matching exactly one status code.
func Status(code int) StatusRange { return StatusRange{Min: code, Max: code} }

// Range returns a StatusRange matching [min, max] inclusive.
func Range(min, max int) StatusRange { return StatusRange{Min: min, Max: max} }

func anyContains(ranges []StatusRange, code int) bool {
	for _, r := range ranges {
		if r.Contains(code) {
			return true
		}
	}
	return false
}

// DefaultRetryableStatuses mirrors the engine-level default: 408, 429, 500,
// 502, 503, 504, and the 520-527 Cloudflare-origin error block.
func DefaultRetryableStatuses() []StatusRange {
	return []StatusRange{
		Status(http.StatusRequestTimeout),
		Status(http.StatusTooManyRequests),
		Status(http.StatusInternalServerError),
		Status(http.StatusBadGateway),
		Status(http.StatusServiceUnavailable),
		Status(http.StatusGatewayTimeout),
		Range(520, 527),
	}
}

// DefaultRetryableMethods mirrors the engine-level default.
func DefaultRetryableMethods() []string {
	return []string{http.MethodGet, http.MethodHead, http.MethodOptions}
}

// DefaultIdempotencyHeaders mirrors the engine-level default.
func DefaultIdempotencyHeaders() []string {
	return []string{"Idempotency-Key"}
}

// idempotentBodyMethods are the methods for which the presence of an
// idempotency header is sufficient to permit a retry, per spec.
var idempotentBodyMethods = map[string]bool{
	http.MethodPost:  true,
	http.MethodPut:   true,
	http.MethodPatch: true,
}

// Config configures a Policy. Zero-value fields are filled with defaults by
// New.
type Config struct {
	RetryableStatuses  []StatusRange
	RetryableMethods   []string
	Backoff            backoff.Kind
	IdempotencyHeaders []string

	// MaxRateLimitDelay caps the delay honored from a response's
	// Retry-After header. Zero means "no cap".
	MaxRateLimitDelay time.Duration
}

// Policy is an immutable, validated retry policy.
type Policy struct {
	retryableStatuses  []StatusRange
	retryableMethods   map[string]bool
	backoffKind        backoff.Kind
	idempotencyHeaders []string
	maxRateLimitDelay  time.Duration
}

// New builds a Policy, applying defaults for any zero-value Config fields.
func New(cfg Config) *Policy {
	statuses := cfg.RetryableStatuses
	if len(statuses) == 0 {
		statuses = DefaultRetryableStatuses()
	}

	methods := cfg.RetryableMethods
	if len(methods) == 0 {
		methods = DefaultRetryableMethods()
	}
	methodSet := make(map[string]bool, len(methods))
	for _, m := range methods {
		methodSet[strings.ToUpper(m)] = true
	}

	headers := cfg.IdempotencyHeaders
	if len(headers) == 0 {
		headers = DefaultIdempotencyHeaders()
	}

	return &Policy{
		retryableStatuses:  statuses,
		retryableMethods:   methodSet,
		backoffKind:        cfg.Backoff,
		idempotencyHeaders: headers,
		maxRateLimitDelay:  cfg.MaxRateLimitDelay,
	}
}

// Outcome describes a single completed (or failed) transport attempt, as
// observed by the policy.
type Outcome struct {
	// Method is the HTTP method of the request that produced this outcome.
	Method string
	// HasResponse is false for network/transport failures (no response was
	// ever received).
	HasResponse bool
	// StatusCode is only meaningful when HasResponse is true.
	StatusCode int
	// Headers are the request headers, used to look for idempotency markers.
	Headers http.Header
	// ResponseHeaders are the response headers, used to honor Retry-After.
	ResponseHeaders http.Header
	// StatusOverrides is a per-request override of retryable statuses; when
	// non-nil it takes precedence over the policy's configured statuses.
	StatusOverrides []StatusRange
}

// IsRetryable implements spec.md §4.2 RetryPolicy.isRetryable.
func (p *Policy) IsRetryable(o Outcome) bool {
	if !o.HasResponse {
		return true
	}

	effective := p.retryableStatuses
	if o.StatusOverrides != nil {
		effective = o.StatusOverrides
	}

	method := strings.ToUpper(o.Method)
	if p.retryableMethods[method] && anyContains(effective, o.StatusCode) {
		return true
	}

	if idempotentBodyMethods[method] && p.hasIdempotencyHeader(o.Headers) {
		return true
	}

	return false
}

func (p *Policy) hasIdempotencyHeader(h http.Header) bool {
	if h == nil {
		return false
	}
	for _, name := range p.idempotencyHeaders {
		if h.Get(name) != "" {
			return true
		}
	}
	return false
}

// ShouldRetry implements spec.md §4.2 RetryPolicy.shouldRetry.
func (p *Policy) ShouldRetry(o Outcome, attempt, max int) bool {
	return p.IsRetryable(o) && attempt <= max
}

// GetDelay implements spec.md §4.2 RetryPolicy.getDelay, extended per
// SPEC_FULL.md §5.1: a well-formed Retry-After response header wins over the
// computed backoff, capped at MaxRateLimitDelay.
func (p *Policy) GetDelay(attempt int, overrideKind *backoff.Kind, responseHeaders http.Header) time.Duration {
	if d, ok := p.retryAfterDelay(responseHeaders); ok {
		return d
	}

	kind := p.backoffKind
	if overrideKind != nil {
		kind = *overrideKind
	}
	return backoff.Delay(attempt, kind)
}

func (p *Policy) retryAfterDelay(headers http.Header) (time.Duration, bool) {
	if headers == nil {
		return 0, false
	}
	values := headers.Values("Retry-After")
	if len(values) == 0 || values[0] == "" {
		return 0, false
	}

	raw := values[0]

	if secs, err := strconv.Atoi(raw); err == nil {
		if secs < 0 {
			return 0, false
		}
		d := time.Duration(secs) * time.Second
		return p.capRateLimitDelay(d), true
	}

	when, err := http.ParseTime(raw)
	if err != nil {
		return 0, false
	}
	until := time.Until(when)
	if until < 0 {
		return 0, false
	}
	return p.capRateLimitDelay(until), true
}

func (p *Policy) capRateLimitDelay(d time.Duration) time.Duration {
	if p.maxRateLimitDelay > 0 && d > p.maxRateLimitDelay {
		return p.maxRateLimitDelay
	}
	return d
}
