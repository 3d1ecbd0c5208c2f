// Copyright (c) Liam Stanley <liam@liam.sh>. All rights reserved. Use of
// this source code is governed by the MIT license that can be found in
// the LICENSE file.

package retryengine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func hstatus(t *testing.T, code int) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(code)
	}
}

// mockServer serves handlers in order, one per request. Extra requests past
// len(handlers) get a 500, mirroring the teacher's retry/client_test.go
// mockServer helper.
func mockServer(t *testing.T, handlers []http.HandlerFunc) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	var idx int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		count := idx
		idx++
		mu.Unlock()

		if count >= len(handlers) {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		handlers[count](w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestEngine(t *testing.T, cfg *Config) *Engine {
	t.Helper()
	e, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(e.Destroy)
	return e
}

func TestEngineReturnsSuccessResponse(t *testing.T) {
	srv := mockServer(t, []http.HandlerFunc{hstatus(t, http.StatusOK)})
	e := newTestEngine(t, &Config{})

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := e.Do(context.Background(), req, RequestOptions{})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	m := e.Metrics()
	if m.TotalRequests != 1 {
		t.Fatalf("TotalRequests = %d, want 1", m.TotalRequests)
	}
}

// TestEngineExponentialRetryThenSuccess covers spec scenario S4: two 503s
// followed by a 200, exponential backoff, total wall time >= 1s + 2s.
func TestEngineExponentialRetryThenSuccess(t *testing.T) {
	srv := mockServer(t, []http.HandlerFunc{
		hstatus(t, http.StatusServiceUnavailable),
		hstatus(t, http.StatusServiceUnavailable),
		hstatus(t, http.StatusOK),
	})
	e := newTestEngine(t, &Config{Retries: IntPtr(3)})

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	start := time.Now()
	resp, err := e.Do(context.Background(), req, RequestOptions{})
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if elapsed < 3*time.Second {
		t.Fatalf("elapsed = %s, want >= 3s", elapsed)
	}

	m := e.Metrics()
	if m.SuccessfulRetries != 1 {
		t.Fatalf("SuccessfulRetries = %d, want 1", m.SuccessfulRetries)
	}
	if m.FailedRetries != 0 {
		t.Fatalf("FailedRetries = %d, want 0", m.FailedRetries)
	}
	if m.RetryAttemptsDistribution[1] != 1 || m.RetryAttemptsDistribution[2] != 1 {
		t.Fatalf("RetryAttemptsDistribution = %v, want {1:1, 2:1}", m.RetryAttemptsDistribution)
	}
}

// TestEngineCancellationDuringRetrySleep covers spec scenario S5: cancel a
// request while it is sleeping before its retry attempt.
func TestEngineCancellationDuringRetrySleep(t *testing.T) {
	srv := mockServer(t, []http.HandlerFunc{hstatus(t, http.StatusInternalServerError)})
	e := newTestEngine(t, &Config{Retries: IntPtr(3)})

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)

	type result struct {
		resp *http.Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := e.Do(context.Background(), req, RequestOptions{ID: "cancel-me"})
		done <- result{resp, err}
	}()

	time.Sleep(200 * time.Millisecond) // well before the 1s retry sleep elapses.
	if !e.CancelRequest("cancel-me") {
		t.Fatal("CancelRequest reported the request was unknown")
	}

	res := <-done
	if res.err == nil {
		t.Fatal("expected a cancellation error, got nil")
	}
	if _, ok := res.err.(*RequestCanceledError); !ok {
		t.Fatalf("err = %v (%T), want *RequestCanceledError", res.err, res.err)
	}

	m := e.Metrics()
	if m.CanceledRequests != 1 {
		t.Fatalf("CanceledRequests = %d, want 1", m.CanceledRequests)
	}
	if m.Timers.ActiveRetryTimers != 0 {
		t.Fatalf("ActiveRetryTimers = %d, want 0", m.Timers.ActiveRetryTimers)
	}
}

// TestEngineManualReplay covers spec scenario S8: a MANUAL-mode request that
// fails lands in the FailedStore; RetryFailedRequests replays it once the
// upstream recovers.
func TestEngineManualReplay(t *testing.T) {
	srv := mockServer(t, []http.HandlerFunc{
		hstatus(t, http.StatusInternalServerError),
		hstatus(t, http.StatusOK),
	})
	e := newTestEngine(t, &Config{})

	manual := Manual
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := e.Do(context.Background(), req, RequestOptions{Mode: &manual})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}

	results, err := e.RetryFailedRequests(context.Background())
	if err != nil {
		t.Fatalf("RetryFailedRequests: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	if results[0].StatusCode != http.StatusOK {
		t.Fatalf("replay status = %d, want 200", results[0].StatusCode)
	}
}

func TestEngineQueueFullRejectsSynchronously(t *testing.T) {
	srv := mockServer(t, []http.HandlerFunc{
		hstatus(t, http.StatusOK),
		hstatus(t, http.StatusOK),
	})
	size := 1
	e := newTestEngine(t, &Config{MaxConcurrentRequests: 1, MaxQueueSize: &size, QueueDelay: 50 * time.Millisecond})

	block := make(chan struct{})
	unblock := make(chan struct{})
	e.cfg.BaseTransport = roundTripFuncForTest(func(req *http.Request) (*http.Response, error) {
		close(block)
		<-unblock
		return http.DefaultTransport.RoundTrip(req)
	})

	req1, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	go e.Do(context.Background(), req1, RequestOptions{}) //nolint:errcheck
	<-block                                                // req1 now holds the only concurrency slot.

	req2, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	go e.Do(context.Background(), req2, RequestOptions{}) //nolint:errcheck
	time.Sleep(100 * time.Millisecond)                     // let req2 take the one queue slot.

	req3, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	_, err := e.Do(context.Background(), req3, RequestOptions{})
	if err == nil {
		t.Fatal("expected a QueueFullError")
	}
	if _, ok := err.(*QueueFullError); !ok {
		t.Fatalf("err = %v (%T), want *QueueFullError", err, err)
	}

	close(unblock)
}

type roundTripFuncForTest func(*http.Request) (*http.Response, error)

func (f roundTripFuncForTest) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

// TestEngineCircuitBreakerFastFailsWhenOpen covers spec scenario S6 at the
// engine integration level: three 500s trip the breaker, the next call
// fast-fails with CircuitOpenError without reaching the transport, and after
// OpenTimeout elapses a successful probe closes it again.
func TestEngineCircuitBreakerFastFailsWhenOpen(t *testing.T) {
	srv := mockServer(t, []http.HandlerFunc{
		hstatus(t, http.StatusInternalServerError),
		hstatus(t, http.StatusInternalServerError),
		hstatus(t, http.StatusInternalServerError),
		hstatus(t, http.StatusOK),
	})
	e := newTestEngine(t, &Config{
		Mode: Manual, // avoid automatic retries consuming extra server hits.
		CircuitBreaker: &CircuitBreakerConfig{
			FailureThreshold: 3,
			OpenTimeout:      50 * time.Millisecond,
			HalfOpenMax:      1,
		},
	})

	for range 3 {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		resp, err := e.Do(context.Background(), req, RequestOptions{})
		if err != nil {
			t.Fatalf("Do: %v", err)
		}
		if resp.StatusCode != http.StatusInternalServerError {
			t.Fatalf("status = %d, want 500", resp.StatusCode)
		}
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	_, err := e.Do(context.Background(), req, RequestOptions{})
	if _, ok := err.(*CircuitOpenError); !ok {
		t.Fatalf("err = %v (%T), want *CircuitOpenError", err, err)
	}

	time.Sleep(60 * time.Millisecond)

	req, _ = http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := e.Do(context.Background(), req, RequestOptions{})
	if err != nil {
		t.Fatalf("Do after half-open probe: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

// TestEngineCircuitBreakerFastFailTerminatesAutomaticRetries guards against
// a fast-failed CircuitOpenError being treated as a retryable, no-response
// outcome: the breaker trips on the first 500, and the pending retry's
// second attempt must fast-fail and stop, not schedule yet another sleep.
func TestEngineCircuitBreakerFastFailTerminatesAutomaticRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	e := newTestEngine(t, &Config{
		Mode:    Automatic,
		Retries: IntPtr(5),
		CircuitBreaker: &CircuitBreakerConfig{
			FailureThreshold: 1,
			OpenTimeout:      time.Hour,
			HalfOpenMax:      1,
		},
	})

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	_, err := e.Do(context.Background(), req, RequestOptions{})

	var circuitErr *CircuitOpenError
	if !errors.As(err, &circuitErr) {
		t.Fatalf("err = %v (%T), want *CircuitOpenError", err, err)
	}
	// First attempt reaches the transport and trips the breaker; the
	// second attempt must fast-fail and terminate instead of retrying
	// into more fast-fails, so the transport is hit exactly once.
	if got := hits.Load(); got != 1 {
		t.Fatalf("transport hits = %d, want 1", got)
	}

	m := e.Metrics()
	if m.RetryAttemptsDistribution[2] != 0 {
		t.Fatalf("RetryAttemptsDistribution[2] = %d, want 0 (no second retry scheduled)", m.RetryAttemptsDistribution[2])
	}
}

// TestEngineRetriesZeroMeansNoRetries pins the explicit Retries: IntPtr(0)
// case (distinct from an unset Retries, which defaults to 3): a single
// failing attempt must be terminal.
func TestEngineRetriesZeroMeansNoRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	e := newTestEngine(t, &Config{Retries: IntPtr(0)})

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := e.Do(context.Background(), req, RequestOptions{})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("transport hits = %d, want 1 (no retries)", got)
	}
}

// outsideWrapperPlugin is a minimal TransportWrappingPlugin used to prove
// RegisterOptions{Outside: true} actually installs its wrapping in front of
// Engine.RoundTrip, rather than being a silently inert option.
type outsideWrapperPlugin struct {
	calls atomic.Int32
}

func (p *outsideWrapperPlugin) Name() string               { return "outside-wrapper" }
func (p *outsideWrapperPlugin) Version() string            { return "1.0.0" }
func (p *outsideWrapperPlugin) Initialize(_ *Engine) error { return nil }

func (p *outsideWrapperPlugin) WrapTransport(next http.RoundTripper) http.RoundTripper {
	return roundTripFuncForTest(func(req *http.Request) (*http.Response, error) {
		p.calls.Add(1)
		return next.RoundTrip(req)
	})
}

func TestEngineRegisterPluginOutsideWrapsRoundTrip(t *testing.T) {
	srv := mockServer(t, []http.HandlerFunc{hstatus(t, http.StatusOK)})
	e := newTestEngine(t, &Config{})

	p := &outsideWrapperPlugin{}
	if err := e.RegisterPlugin(p, RegisterOptions{Outside: true}); err != nil {
		t.Fatalf("RegisterPlugin: %v", err)
	}

	client := e.Client()
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("client.Do: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := p.calls.Load(); got != 1 {
		t.Fatalf("outside wrapper calls = %d, want 1", got)
	}
}
