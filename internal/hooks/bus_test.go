// Copyright (c) Liam Stanley <liam@liam.sh>. All rights reserved. Use of
// this source code is governed by the MIT license that can be found in
// the LICENSE file.

package hooks

import (
	"io"
	"log/slog"
	"testing"
)

type testDescriptor struct{ id string }
type testMetrics struct{ total int }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEmitOrderEngineThenPluginsThenListeners(t *testing.T) {
	var order []string

	engine := &Set[testDescriptor, testMetrics]{
		OnFailure: func(d testDescriptor) { order = append(order, "engine") },
	}
	b := New(discardLogger(), engine)

	b.AttachPlugin(&Set[testDescriptor, testMetrics]{
		OnFailure: func(d testDescriptor) { order = append(order, "plugin1") },
	})
	b.AttachPlugin(&Set[testDescriptor, testMetrics]{
		OnFailure: func(d testDescriptor) { order = append(order, "plugin2") },
	})
	b.OnFailure(func(d testDescriptor) { order = append(order, "listener") })

	b.EmitFailure(testDescriptor{id: "x"})

	want := []string{"engine", "plugin1", "plugin2", "listener"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestHandlerPanicIsRecoveredAndSubsequentHandlersStillRun(t *testing.T) {
	var ran bool
	b := New(discardLogger(), &Set[testDescriptor, testMetrics]{
		OnFailure: func(d testDescriptor) { panic("boom") },
	})
	b.OnFailure(func(d testDescriptor) { ran = true })

	b.EmitFailure(testDescriptor{id: "x"}) // must not panic

	if !ran {
		t.Fatal("listener after a panicking handler never ran")
	}
}

func TestUnsubscribeStopsFutureDelivery(t *testing.T) {
	var calls int
	b := New[testDescriptor, testMetrics](discardLogger(), nil)
	unsub := b.OnFailure(func(d testDescriptor) { calls++ })

	b.EmitFailure(testDescriptor{})
	unsub()
	b.EmitFailure(testDescriptor{})

	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestDetachPluginStopsDelivery(t *testing.T) {
	var calls int
	s := &Set[testDescriptor, testMetrics]{OnFailure: func(d testDescriptor) { calls++ }}
	b := New[testDescriptor, testMetrics](discardLogger(), nil)
	b.AttachPlugin(s)

	b.EmitFailure(testDescriptor{})
	b.DetachPlugin(s)
	b.EmitFailure(testDescriptor{})

	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestEmitMetricsUpdatedDeliversToListener(t *testing.T) {
	var got testMetrics
	b := New[testDescriptor, testMetrics](discardLogger(), nil)
	b.OnMetricsUpdated(func(m testMetrics) { got = m })

	b.EmitMetricsUpdated(testMetrics{total: 42})

	if got.total != 42 {
		t.Fatalf("got.total = %d, want 42", got.total)
	}
}
