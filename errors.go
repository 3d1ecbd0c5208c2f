// Copyright (c) Liam Stanley <liam@liam.sh>. All rights reserved. Use of
// this source code is governed by the MIT license that can be found in
// the LICENSE file.

package retryengine

import (
	"errors"
	"fmt"

	"github.com/lrstanley/retryengine/internal/admission"
)

// Sentinel errors surfaced to callers (spec.md §6, §7). ErrQueueCleared and
// ErrQueueDestroyed are re-exported from the admission package so callers
// never need to import it directly.
var (
	ErrQueueFull       = admission.ErrQueueFull
	ErrQueueCleared    = admission.ErrQueueCleared
	ErrQueueDestroyed  = admission.ErrQueueDestroyed
	ErrRequestCanceled = admission.ErrRequestCanceled
	ErrCircuitOpen     = errors.New("retryengine: circuit breaker is open")
)

// QueueFullError wraps ErrQueueFull with the descriptor that failed to
// enqueue, so a caller can recover it via errors.As without the engine
// losing type information across the admission boundary.
type QueueFullError struct {
	Descriptor *RequestDescriptor
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("retryengine: request queue is full, id=%s", e.Descriptor.ID())
}

func (e *QueueFullError) Unwrap() error { return ErrQueueFull }

// CircuitOpenError wraps ErrCircuitOpen with the descriptor whose attempt
// was fast-failed.
type CircuitOpenError struct {
	Descriptor *RequestDescriptor
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("retryengine: circuit open, request aborted. id=%s", e.Descriptor.ID())
}

func (e *CircuitOpenError) Unwrap() error { return ErrCircuitOpen }

// RequestCanceledError wraps ErrRequestCanceled with the id of the aborted
// request.
type RequestCanceledError struct {
	ID string
}

func (e *RequestCanceledError) Error() string {
	return fmt.Sprintf("retryengine: request aborted. ID: %s", e.ID)
}

func (e *RequestCanceledError) Unwrap() error { return ErrRequestCanceled }
