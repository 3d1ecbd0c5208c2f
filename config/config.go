// Copyright (c) Liam Stanley <liam@liam.sh>. All rights reserved. Use of
// this source code is governed by the MIT license that can be found in
// the LICENSE file.

// Package config loads a [retryengine.Config] from a YAML file. This is
// additive to SPEC_FULL.md's primary, programmatic Config construction path
// — a convenience for deployments that prefer externalized configuration
// over code.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/lrstanley/retryengine"
	"github.com/lrstanley/retryengine/internal/backoff"
	"github.com/lrstanley/retryengine/internal/retrypolicy"
)

// statusRange mirrors retrypolicy.StatusRange with YAML tags; a single
// status code may be given as "min" with "max" omitted.
type statusRange struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// circuitBreaker mirrors retryengine.CircuitBreakerConfig.
type circuitBreaker struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout"`
	HalfOpenMax      int64         `yaml:"half_open_max"`
}

// file is the on-disk YAML shape. Only fields that are meaningfully
// serializable are represented; BaseTransport, TraceFunc, CircuitBreaker's
// IsExcluded, and Logger remain programmatic-only and keep whatever default
// retryengine.Config.Validate would otherwise apply.
type file struct {
	Mode                      string          `yaml:"mode"`
	Retries                   *int            `yaml:"retries"`
	MaxConcurrentRequests     int             `yaml:"max_concurrent_requests"`
	QueueDelay                time.Duration   `yaml:"queue_delay"`
	MaxQueueSize              *int            `yaml:"max_queue_size"`
	MaxRequestsToStore        int             `yaml:"max_requests_to_store"`
	BlockingQueueThreshold    *string         `yaml:"blocking_queue_threshold"`
	RetryableStatuses         []statusRange   `yaml:"retryable_statuses"`
	RetryableMethods          []string        `yaml:"retryable_methods"`
	IdempotencyHeaders        []string        `yaml:"idempotency_headers"`
	BackoffType               string          `yaml:"backoff_type"`
	MaxRateLimitDelay         time.Duration   `yaml:"max_rate_limit_delay"`
	ThrowErrorOnFailedRetries *bool           `yaml:"throw_error_on_failed_retries"`
	ThrowErrorOnCancelRequest *bool           `yaml:"throw_error_on_cancel_request"`
	CircuitBreaker            *circuitBreaker `yaml:"circuit_breaker"`
	Debug                     bool            `yaml:"debug"`
}

var priorityNames = map[string]retryengine.Priority{
	"low":      retryengine.Low,
	"medium":   retryengine.Medium,
	"high":     retryengine.High,
	"critical": retryengine.Critical,
}

var backoffNames = map[string]backoff.Kind{
	"static":      backoff.Static,
	"linear":      backoff.Linear,
	"exponential": backoff.Exponential,
}

var modeNames = map[string]retryengine.Mode{
	"automatic": retryengine.Automatic,
	"manual":    retryengine.Manual,
}

// Load reads path as YAML and builds a *retryengine.Config, applying
// retryengine.Config.Validate before returning it so the result is always
// ready to pass to retryengine.NewEngine.
func Load(path string) (*retryengine.Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg := &retryengine.Config{
		Retries:                   f.Retries,
		MaxConcurrentRequests:     f.MaxConcurrentRequests,
		QueueDelay:                f.QueueDelay,
		MaxQueueSize:              f.MaxQueueSize,
		MaxRequestsToStore:        f.MaxRequestsToStore,
		RetryableMethods:          f.RetryableMethods,
		IdempotencyHeaders:        f.IdempotencyHeaders,
		MaxRateLimitDelay:         f.MaxRateLimitDelay,
		ThrowErrorOnFailedRetries: f.ThrowErrorOnFailedRetries,
		ThrowErrorOnCancelRequest: f.ThrowErrorOnCancelRequest,
		Debug:                     f.Debug,
	}

	if f.Mode != "" {
		mode, ok := modeNames[f.Mode]
		if !ok {
			return nil, fmt.Errorf("config: unknown mode %q", f.Mode)
		}
		cfg.Mode = mode
	}

	if f.BlockingQueueThreshold != nil {
		p, ok := priorityNames[*f.BlockingQueueThreshold]
		if !ok {
			return nil, fmt.Errorf("config: unknown blocking_queue_threshold %q", *f.BlockingQueueThreshold)
		}
		cfg.BlockingQueueThreshold = &p
	}

	if f.BackoffType != "" {
		kind, ok := backoffNames[f.BackoffType]
		if !ok {
			return nil, fmt.Errorf("config: unknown backoff_type %q", f.BackoffType)
		}
		cfg.BackoffType = kind
	}

	for _, s := range f.RetryableStatuses {
		max := s.Max
		if max == 0 {
			max = s.Min
		}
		cfg.RetryableStatuses = append(cfg.RetryableStatuses, retrypolicy.Range(s.Min, max))
	}

	if f.CircuitBreaker != nil {
		cfg.CircuitBreaker = &retryengine.CircuitBreakerConfig{
			FailureThreshold: f.CircuitBreaker.FailureThreshold,
			OpenTimeout:      f.CircuitBreaker.OpenTimeout,
			HalfOpenMax:      f.CircuitBreaker.HalfOpenMax,
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
