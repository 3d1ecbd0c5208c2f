// Copyright (c) Liam Stanley <liam@liam.sh>. All rights reserved. Use of
// this source code is governed by the MIT license that can be found in
// the LICENSE file.

package retrypolicy

import (
	"net/http"
	"testing"
	"time"

	"github.com/lrstanley/retryengine/internal/backoff"
)

func TestIsRetryable(t *testing.T) {
	p := New(Config{})

	tests := []struct {
		name string
		o    Outcome
		want bool
	}{
		{"no-response", Outcome{HasResponse: false}, true},
		{"get-500", Outcome{Method: http.MethodGet, HasResponse: true, StatusCode: 500}, true},
		{"get-429", Outcome{Method: http.MethodGet, HasResponse: true, StatusCode: 429}, true},
		{"get-404", Outcome{Method: http.MethodGet, HasResponse: true, StatusCode: 404}, false},
		{"post-500-no-header", Outcome{Method: http.MethodPost, HasResponse: true, StatusCode: 500}, false},
		{
			"post-500-with-idempotency-header",
			Outcome{
				Method: http.MethodPost, HasResponse: true, StatusCode: 500,
				Headers: http.Header{"Idempotency-Key": []string{"abc"}},
			},
			true,
		},
		{
			"per-request-override-status",
			Outcome{
				Method: http.MethodGet, HasResponse: true, StatusCode: 418,
				StatusOverrides: []StatusRange{Status(418)},
			},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.IsRetryable(tt.o); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestShouldRetry(t *testing.T) {
	p := New(Config{})
	o := Outcome{Method: http.MethodGet, HasResponse: true, StatusCode: 500}

	if !p.ShouldRetry(o, 1, 3) {
		t.Error("expected retry at attempt 1 of 3")
	}
	if p.ShouldRetry(o, 4, 3) {
		t.Error("expected no retry at attempt 4 of 3")
	}
}

func TestGetDelayDefersToConfiguredBackoff(t *testing.T) {
	p := New(Config{Backoff: backoff.Exponential})
	d := p.GetDelay(3, nil, nil)
	if d != 4*time.Second {
		t.Errorf("GetDelay() = %s, want 4s", d)
	}
}

func TestGetDelayHonorsOverride(t *testing.T) {
	p := New(Config{Backoff: backoff.Exponential})
	linear := backoff.Linear
	d := p.GetDelay(3, &linear, nil)
	if d != 3*time.Second {
		t.Errorf("GetDelay() = %s, want 3s", d)
	}
}

func TestGetDelayHonorsRetryAfterSeconds(t *testing.T) {
	p := New(Config{Backoff: backoff.Exponential})
	h := http.Header{"Retry-After": []string{"10"}}
	d := p.GetDelay(1, nil, h)
	if d != 10*time.Second {
		t.Errorf("GetDelay() = %s, want 10s", d)
	}
}

func TestGetDelayCapsRetryAfter(t *testing.T) {
	p := New(Config{Backoff: backoff.Exponential, MaxRateLimitDelay: 5 * time.Second})
	h := http.Header{"Retry-After": []string{"60"}}
	d := p.GetDelay(1, nil, h)
	if d != 5*time.Second {
		t.Errorf("GetDelay() = %s, want capped 5s", d)
	}
}

func TestGetDelayIgnoresInvalidRetryAfter(t *testing.T) {
	p := New(Config{Backoff: backoff.Static})
	h := http.Header{"Retry-After": []string{"not-a-number"}}
	d := p.GetDelay(1, nil, h)
	if d != 1*time.Second {
		t.Errorf("GetDelay() = %s, want fallback 1s", d)
	}
}
