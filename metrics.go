// Copyright (c) Liam Stanley <liam@liam.sh>. All rights reserved. Use of
// this source code is governed by the MIT license that can be found in
// the LICENSE file.

package retryengine

import (
	"sync"
	"time"
)

// errorKindTally holds the error-kind counters from spec.md §3.
type errorKindTally struct {
	Network   int
	Server5xx int
	Client4xx int
	Cancelled int
}

// priorityTally holds per-priority success/failure counts.
type priorityTally struct {
	Successes int
	Failures  int
}

// metrics is the engine's mutable accumulator. All mutation happens under
// mu; snapshot copies out a read-only view (spec.md §3, §6).
type metrics struct {
	mu sync.Mutex

	totalRequests                    int
	successfulRetries                int
	failedRetries                    int
	canceledRequests                 int
	completelyFailedRequests         int
	completelyFailedCriticalRequests int

	requestCountsByPriority   [4]int
	priorityTallies           [4]priorityTally
	retryAttemptsDistribution map[int]int
	errorKinds                errorKindTally

	queueWaitDuration  time.Duration
	retryDelayDuration time.Duration
}

func newMetrics() *metrics {
	return &metrics{retryAttemptsDistribution: make(map[int]int)}
}

func (m *metrics) incTotal(p Priority) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalRequests++
	m.requestCountsByPriority[p]++
}

func (m *metrics) addQueueWait(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queueWaitDuration += d
}

func (m *metrics) addRetryDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retryDelayDuration += d
}

func (m *metrics) incSuccessfulRetry(p Priority) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.successfulRetries++
	m.priorityTallies[p].Successes++
}

func (m *metrics) incFailedRetry(p Priority, kind errorKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failedRetries++
	m.priorityTallies[p].Failures++
	m.tallyErrorKindLocked(kind)
}

func (m *metrics) tallyErrorKindLocked(kind errorKind) {
	switch kind {
	case errorKindNetwork:
		m.errorKinds.Network++
	case errorKindServer5xx:
		m.errorKinds.Server5xx++
	case errorKindClient4xx:
		m.errorKinds.Client4xx++
	case errorKindCancelled:
		m.errorKinds.Cancelled++
	}
}

func (m *metrics) incCanceled() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.canceledRequests++
	m.tallyErrorKindLocked(errorKindCancelled)
}

func (m *metrics) incRetryAttempt(attempt int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retryAttemptsDistribution[attempt]++
}

func (m *metrics) finalizeFailedStoreCounts(total, critical int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completelyFailedRequests += total
	m.completelyFailedCriticalRequests += critical
}

// errorKind classifies a terminal failure for metrics purposes (spec.md
// §7).
type errorKind int

const (
	errorKindNetwork errorKind = iota
	errorKindServer5xx
	errorKindClient4xx
	errorKindCancelled
)

// PriorityRate is the derived success/failure rate for one priority class
// (spec.md §6).
type PriorityRate struct {
	Successes   int
	Failures    int
	SuccessRate float64
	FailureRate float64
}

// TimerHealth summarizes outstanding timer load (spec.md §6, Glossary).
type TimerHealth struct {
	ActiveTimers      int
	ActiveRetryTimers int
	HealthScore       int
}

// MetricsSnapshot is the read-only metrics view returned by Engine.Metrics
// and passed to onRetryProcessFinished/onMetricsUpdated hooks.
type MetricsSnapshot struct {
	TotalRequests                     int
	SuccessfulRetries                 int
	FailedRetries                     int
	CanceledRequests                  int
	CompletelyFailedRequests          int
	CompletelyFailedCriticalRequests  int
	RequestCountsByPriority           [4]int
	RetryAttemptsDistribution         map[int]int
	ErrorKinds                        errorKindTally
	PriorityRates                     [4]PriorityRate
	AvgQueueWaitSeconds               float64
	AvgRetryDelaySeconds              float64
	Timers                            TimerHealth
}

// snapshot builds a MetricsSnapshot, folding in timer health figures the
// caller (the engine) reads from its shared TimerRegistry.
func (m *metrics) snapshot(activeTimers, activeRetryTimers int) MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	dist := make(map[int]int, len(m.retryAttemptsDistribution))
	for k, v := range m.retryAttemptsDistribution {
		dist[k] = v
	}

	var rates [4]PriorityRate
	for i, t := range m.priorityTallies {
		total := t.Successes + t.Failures
		r := PriorityRate{Successes: t.Successes, Failures: t.Failures}
		if total > 0 {
			r.SuccessRate = 100 * float64(t.Successes) / float64(total)
			r.FailureRate = 100 * float64(t.Failures) / float64(total)
		}
		rates[i] = r
	}

	var avgQueueWait, avgRetryDelay float64
	if m.totalRequests > 0 {
		avgQueueWait = m.queueWaitDuration.Seconds() / float64(m.totalRequests)
	}
	if denom := m.successfulRetries + m.failedRetries; denom > 0 {
		avgRetryDelay = m.retryDelayDuration.Seconds() / float64(denom)
	}

	return MetricsSnapshot{
		TotalRequests:                    m.totalRequests,
		SuccessfulRetries:                m.successfulRetries,
		FailedRetries:                    m.failedRetries,
		CanceledRequests:                 m.canceledRequests,
		CompletelyFailedRequests:         m.completelyFailedRequests,
		CompletelyFailedCriticalRequests: m.completelyFailedCriticalRequests,
		RequestCountsByPriority:          m.requestCountsByPriority,
		RetryAttemptsDistribution:        dist,
		ErrorKinds:                       m.errorKinds,
		PriorityRates:                    rates,
		AvgQueueWaitSeconds:              avgQueueWait,
		AvgRetryDelaySeconds:             avgRetryDelay,
		Timers: TimerHealth{
			ActiveTimers:      activeTimers,
			ActiveRetryTimers: activeRetryTimers,
			HealthScore:       activeTimers + 2*activeRetryTimers,
		},
	}
}
