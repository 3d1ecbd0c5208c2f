// Copyright (c) Liam Stanley <liam@liam.sh>. All rights reserved. Use of
// this source code is governed by the MIT license that can be found in
// the LICENSE file.

package plugin

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestCacheServesSecondRequestWithoutHittingTransport(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hello from origin"))
	}))
	defer srv.Close()

	c := NewCache(time.Minute)
	client := &http.Client{Transport: c.WrapTransport(http.DefaultTransport)}

	var bodies []string
	for range 2 {
		req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
		if err != nil {
			t.Fatal(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		b, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			t.Fatal(err)
		}
		bodies = append(bodies, string(b))
	}

	if got := hits.Load(); got != 1 {
		t.Fatalf("transport hits = %d, want 1", got)
	}
	if got := c.Hits(); got != 1 {
		t.Fatalf("cache hits = %d, want 1", got)
	}
	for i, b := range bodies {
		if b != "hello from origin" {
			t.Fatalf("bodies[%d] = %q, want %q", i, b, "hello from origin")
		}
	}
}

func TestCacheSkipsNonGetMethods(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewCache(time.Minute)
	client := &http.Client{Transport: c.WrapTransport(http.DefaultTransport)}

	for range 2 {
		req, err := http.NewRequest(http.MethodPost, srv.URL, nil)
		if err != nil {
			t.Fatal(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
	}

	if got := hits.Load(); got != 2 {
		t.Fatalf("transport hits = %d, want 2", got)
	}
}

func TestCacheExpiresEntriesAfterTTL(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewCache(time.Millisecond)
	client := &http.Client{Transport: c.WrapTransport(http.DefaultTransport)}

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	time.Sleep(10 * time.Millisecond)

	resp, err = client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if got := hits.Load(); got != 2 {
		t.Fatalf("transport hits = %d, want 2", got)
	}
}
