// Copyright (c) Liam Stanley <liam@liam.sh>. All rights reserved. Use of
// this source code is governed by the MIT license that can be found in
// the LICENSE file.

package backoff

import (
	"testing"
	"time"
)

func TestDelay(t *testing.T) {
	tests := []struct {
		name    string
		attempt int
		kind    Kind
		want    time.Duration
	}{
		{"static-1", 1, Static, 1 * time.Second},
		{"static-5", 5, Static, 1 * time.Second},
		{"linear-1", 1, Linear, 1 * time.Second},
		{"linear-3", 3, Linear, 3 * time.Second},
		{"exponential-1", 1, Exponential, 1 * time.Second},
		{"exponential-2", 2, Exponential, 2 * time.Second},
		{"exponential-3", 3, Exponential, 4 * time.Second},
		{"exponential-4", 4, Exponential, 8 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Delay(tt.attempt, tt.kind)
			if got != tt.want {
				t.Errorf("Delay(%d, %s) = %s, want %s", tt.attempt, tt.kind, got, tt.want)
			}
		})
	}
}

func TestDelayPanicsOnZeroAttempt(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic for attempt 0")
		}
	}()
	Delay(0, Exponential)
}
