// Copyright (c) Liam Stanley <liam@liam.sh>. All rights reserved. Use of
// this source code is governed by the MIT license that can be found in
// the LICENSE file.

package retryengine

import (
	"fmt"
	"net/http"
	"regexp"
	"sync"

	"github.com/lrstanley/retryengine/internal/hooks"
)

var versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// Plugin is the composable extension contract (spec.md §4.10). Package
// plugin holds a reference response-cache implementation; auth-token refresh
// is not implemented in this module — only the contract is specified here.
type Plugin interface {
	// Name must be unique across every plugin registered on an Engine.
	Name() string
	// Version must match X.Y.Z.
	Version() string
	// Initialize is called once, synchronously, during RegisterPlugin.
	Initialize(e *Engine) error
}

// HookablePlugin is a Plugin that also wants to observe lifecycle events.
type HookablePlugin interface {
	Plugin
	Hooks() *hooks.Set[*RequestDescriptor, MetricsSnapshot]
}

// TransportWrappingPlugin is a Plugin that wants to wrap the transport
// chain, e.g. to short-circuit with a cached response or inject a
// refreshed auth token before the call reaches the network.
type TransportWrappingPlugin interface {
	Plugin
	WrapTransport(next http.RoundTripper) http.RoundTripper
}

// DestroyablePlugin is a Plugin that wants to run cleanup before the engine
// finishes tearing itself down.
type DestroyablePlugin interface {
	Plugin
	OnBeforeDestroyed(e *Engine)
}

// RegisterOptions controls how a plugin is wired into the transport chain.
type RegisterOptions struct {
	// Outside, if true, installs this plugin's transport wrapping in
	// front of Engine.RoundTrip itself (what Engine.Client's *http.Client
	// uses), so it sees the request once, before admission/retry logic
	// ever runs, and the final response after every retry attempt has
	// resolved. The default (false) installs the plugin's wrapping
	// inside the engine, between the circuit breaker and the real
	// transport, so it runs once per attempt instead of once per request.
	Outside bool
}

type pluginRegistration struct {
	plugin  Plugin
	outside bool
}

// pluginRegistry tracks attached plugins under its own lock; the Engine
// consults it for duplicate-name checks, unregistration, and Destroy.
type pluginRegistry struct {
	mu     sync.Mutex
	byName map[string]*pluginRegistration
	order  []*pluginRegistration
}

func newPluginRegistry() *pluginRegistry {
	return &pluginRegistry{byName: make(map[string]*pluginRegistration)}
}

func (r *pluginRegistry) register(p Plugin, opts RegisterOptions) error {
	if !versionPattern.MatchString(p.Version()) {
		return fmt.Errorf("retryengine: plugin %q has invalid version %q, want X.Y.Z", p.Name(), p.Version())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[p.Name()]; exists {
		return fmt.Errorf("retryengine: plugin %q is already registered", p.Name())
	}

	reg := &pluginRegistration{plugin: p, outside: opts.Outside}
	r.byName[p.Name()] = reg
	r.order = append(r.order, reg)
	return nil
}

func (r *pluginRegistry) unregister(name string) (*pluginRegistration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	delete(r.byName, name)
	for i, o := range r.order {
		if o == reg {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return reg, true
}

func (r *pluginRegistry) snapshot() []*pluginRegistration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*pluginRegistration, len(r.order))
	copy(out, r.order)
	return out
}
