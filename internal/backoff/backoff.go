// Copyright (c) Liam Stanley <liam@liam.sh>. All rights reserved. Use of
// this source code is governed by the MIT license that can be found in
// the LICENSE file.

// Package backoff computes the delay to wait before a retry attempt, under
// one of a small set of named policies.
package backoff

import "time"

// Kind is a named backoff policy.
type Kind int

const (
	// Exponential doubles the delay on every attempt: 1s, 2s, 4s, 8s, ...
	Exponential Kind = iota
	// Linear grows the delay by a fixed amount per attempt: 1s, 2s, 3s, ...
	Linear
	// Static returns the same delay for every attempt.
	Static
)

func (k Kind) String() string {
	switch k {
	case Exponential:
		return "exponential"
	case Linear:
		return "linear"
	case Static:
		return "static"
	default:
		return "unknown"
	}
}

const unit = 1000 * time.Millisecond

// Delay returns how long to wait before the given attempt under the given
// policy. attempt is 1-based; attempt 0 must never be passed (there is no
// backoff before the initial, non-retry call).
func Delay(attempt int, kind Kind) time.Duration {
	if attempt < 1 {
		panic("backoff: attempt must be >= 1")
	}

	switch kind {
	case Static:
		return unit
	case Linear:
		return time.Duration(attempt) * unit
	case Exponential:
		return (1 << (attempt - 1)) * unit
	default:
		return unit
	}
}
