// Copyright (c) Liam Stanley <liam@liam.sh>. All rights reserved. Use of
// this source code is governed by the MIT license that can be found in
// the LICENSE file.

// Package plugin provides a reference Plugin implementation: an in-memory
// GET response cache, demonstrating the TransportWrappingPlugin and
// HookablePlugin contracts (spec.md §4.10).
package plugin

import (
	"bytes"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/lrstanley/retryengine"
	"github.com/lrstanley/retryengine/internal/hooks"
)

// cachedResponse holds enough of a prior 2xx GET response to replay it
// without hitting the network again.
type cachedResponse struct {
	status    int
	header    http.Header
	body      []byte
	expiresAt time.Time
}

// Cache is a Plugin that short-circuits idempotent GET requests with a
// previously observed response, for as long as TTL allows.
type Cache struct {
	ttl  time.Duration
	mu   sync.Mutex
	byID map[string]*cachedResponse
	hits int
}

// NewCache creates a Cache plugin with the given entry lifetime.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl, byID: make(map[string]*cachedResponse)}
}

func (c *Cache) Name() string    { return "cache" }
func (c *Cache) Version() string { return "1.0.0" }

// Initialize satisfies the Plugin contract; Cache needs no engine reference.
func (c *Cache) Initialize(_ *retryengine.Engine) error { return nil }

// Hooks attaches an OnMetricsUpdated callback to the lifecycle bus. The
// callback does nothing; the cache's hit count is read through Hits.
func (c *Cache) Hooks() *hooks.Set[*retryengine.RequestDescriptor, retryengine.MetricsSnapshot] {
	return &hooks.Set[*retryengine.RequestDescriptor, retryengine.MetricsSnapshot]{
		OnMetricsUpdated: func(retryengine.MetricsSnapshot) {},
	}
}

// WrapTransport installs the cache in front of next: a cache hit returns
// immediately without ever reaching next; a miss runs the real request and,
// for a cacheable response, stores it before returning.
func (c *Cache) WrapTransport(next http.RoundTripper) http.RoundTripper {
	return roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.Method != http.MethodGet {
			return next.RoundTrip(req)
		}

		key := req.URL.String()

		c.mu.Lock()
		entry, ok := c.byID[key]
		if ok && time.Now().After(entry.expiresAt) {
			delete(c.byID, key)
			ok = false
		}
		if ok {
			c.hits++
		}
		c.mu.Unlock()

		if ok {
			return &http.Response{
				StatusCode:    entry.status,
				Header:        entry.header.Clone(),
				Body:          io.NopCloser(bytes.NewReader(entry.body)),
				ContentLength: int64(len(entry.body)),
				Request:       req,
			}, nil
		}

		resp, err := next.RoundTrip(req)
		if err != nil || resp == nil || resp.StatusCode >= 300 {
			return resp, err
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return resp, err
		}
		resp.Body = io.NopCloser(bytes.NewReader(body))

		c.mu.Lock()
		c.byID[key] = &cachedResponse{
			status:    resp.StatusCode,
			header:    resp.Header.Clone(),
			body:      body,
			expiresAt: time.Now().Add(c.ttl),
		}
		c.mu.Unlock()

		return resp, nil
	})
}

// OnBeforeDestroyed drops every cached entry.
func (c *Cache) OnBeforeDestroyed(_ *retryengine.Engine) {
	c.mu.Lock()
	c.byID = make(map[string]*cachedResponse)
	c.mu.Unlock()
}

// Hits returns the number of requests served from cache.
func (c *Cache) Hits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }
