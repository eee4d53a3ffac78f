// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

// Package goplugin provides a Host implementation for binary plugins
// using HashiCorp's go-plugin system over net/rpc.
//
// Binary plugins declare their resources from Init; the host claims
// them in the resource registry with handlers that call back into the
// plugin process.
package goplugin

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	hashiplug "github.com/hashicorp/go-plugin"
	"github.com/samber/oops"

	"github.com/emberhost/ember/internal/command"
	"github.com/emberhost/ember/internal/events"
	plugins "github.com/emberhost/ember/internal/plugin"
	"github.com/emberhost/ember/internal/plugin/capability"
	"github.com/emberhost/ember/internal/plugin/registry"
	"github.com/emberhost/ember/pkg/pluginsdk"
)

// PluginMap is the map of plugins the host can dispense.
var PluginMap = map[string]hashiplug.Plugin{
	pluginsdk.PluginName: &pluginsdk.RPCPlugin{},
}

// Compile-time interface check.
var _ plugins.Host = (*Host)(nil)

// PluginClient wraps the go-plugin client for testability.
type PluginClient interface {
	// Client returns the RPC client protocol.
	Client() (hashiplug.ClientProtocol, error)
	// Kill terminates the plugin process.
	Kill()
}

// ClientFactory creates plugin clients.
type ClientFactory interface {
	// NewClient creates a client for the given executable path.
	NewClient(execPath string) PluginClient
}

// DefaultClientFactory creates real go-plugin clients.
type DefaultClientFactory struct{}

// NewClient creates a real go-plugin client.
func (f *DefaultClientFactory) NewClient(execPath string) PluginClient {
	return hashiplug.NewClient(&hashiplug.ClientConfig{
		HandshakeConfig: pluginsdk.HandshakeConfig,
		Plugins:         PluginMap,
		Cmd:             exec.Command(execPath), // #nosec G204 -- execPath resolved from plugin manifest; manifests validated during discovery
	})
}

// binaryPlugin holds state for a single loaded binary plugin.
type binaryPlugin struct {
	manifest *plugins.Manifest
	dir      string
	client   PluginClient
	impl     pluginsdk.Plugin
}

// Host manages binary plugins.
type Host struct {
	registry *registry.Registry
	enforcer *capability.Enforcer
	factory  ClientFactory
	timeout  time.Duration
	plugins  map[string]*binaryPlugin
	mu       sync.RWMutex
	closed   bool
}

// Option configures the Host.
type Option func(*Host)

// WithTimeout overrides the default hook timeout.
func WithTimeout(d time.Duration) Option {
	return func(h *Host) {
		h.timeout = d
	}
}

// WithClientFactory overrides the client factory (for testing).
func WithClientFactory(f ClientFactory) Option {
	return func(h *Host) {
		h.factory = f
	}
}

// NewHost creates a binary plugin host.
// Panics if reg or enforcer is nil (programmer error at wiring time).
func NewHost(reg *registry.Registry, enforcer *capability.Enforcer, opts ...Option) *Host {
	if reg == nil {
		panic("goplugin.NewHost: registry cannot be nil")
	}
	if enforcer == nil {
		panic("goplugin.NewHost: enforcer cannot be nil")
	}
	h := &Host{
		registry: reg,
		enforcer: enforcer,
		factory:  &DefaultClientFactory{},
		timeout:  plugins.DefaultHookTimeout,
		plugins:  make(map[string]*binaryPlugin),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Load starts the plugin process and connects to it. Loading an already
// loaded plugin replaces its process, so a disable/load/enable cycle
// always runs the current binary.
func (h *Host) Load(_ context.Context, manifest *plugins.Manifest, dir string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return oops.In("goplugin").With("plugin", manifest.Name).With("operation", "load").New("host is closed")
	}

	execPath := filepath.Join(dir, manifest.Entry)
	if _, err := os.Stat(execPath); err != nil {
		return oops.In("goplugin").With("plugin", manifest.Name).With("operation", "load").With("path", execPath).Hint("plugin executable not accessible").Wrap(err)
	}

	client := h.factory.NewClient(execPath)

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return oops.In("goplugin").With("plugin", manifest.Name).With("operation", "load").Hint("failed to connect to plugin process").Wrap(err)
	}

	raw, err := rpcClient.Dispense(pluginsdk.PluginName)
	if err != nil {
		client.Kill()
		return oops.In("goplugin").With("plugin", manifest.Name).With("operation", "load").Wrap(err)
	}

	impl, ok := raw.(pluginsdk.Plugin)
	if !ok {
		client.Kill()
		return oops.In("goplugin").With("plugin", manifest.Name).With("operation", "load").New("plugin does not implement the ember plugin interface")
	}

	if old, ok := h.plugins[manifest.Name]; ok {
		old.client.Kill()
	}

	h.plugins[manifest.Name] = &binaryPlugin{
		manifest: manifest,
		dir:      dir,
		client:   client,
		impl:     impl,
	}

	return nil
}

// Init calls the plugin's Init over RPC and claims its declared
// registrations. A registration the manifest's grants do not cover, or
// one that conflicts with another plugin's claim, fails the whole init
// and releases anything claimed so far.
func (h *Host) Init(ctx context.Context, name string) error {
	bp, err := h.plugin(name, "init")
	if err != nil {
		return err
	}

	var regs pluginsdk.Registrations
	err = h.callWithTimeout(ctx, name, plugins.HookInit, func() error {
		var initErr error
		regs, initErr = bp.impl.Init(bp.manifest.Capabilities())
		return initErr
	})
	if err != nil {
		return err
	}

	if err := h.register(ctx, name, regs); err != nil {
		h.registry.RevokeAll(name)
		return err
	}
	return nil
}

// register claims every declared resource. Callers release claims on error.
func (h *Host) register(_ context.Context, name string, regs pluginsdk.Registrations) error {
	bp, err := h.plugin(name, "register")
	if err != nil {
		return err
	}

	check := func(capName string) error {
		if !h.enforcer.Check(name, capName) {
			return oops.In("goplugin").With("plugin", name).With("capability", capName).New("capability denied")
		}
		return nil
	}

	for _, spec := range regs.Commands {
		if err := check("chat.command"); err != nil {
			return err
		}
		entry := command.Entry{
			Name:   spec.Name,
			Help:   spec.Help,
			Source: name,
			Handler: func(ctx context.Context, ci *command.Invocation) (string, error) {
				return h.invokeCommand(ctx, bp, name, ci)
			},
		}
		if err := h.registry.Register(name, registry.KindCommand, spec.Name, entry); err != nil {
			return err
		}
	}

	for _, eventName := range regs.Events {
		if err := check("chat.event"); err != nil {
			return err
		}
		var handler events.Handler = func(ctx context.Context, ev events.Event) error {
			return h.invokeEvent(ctx, bp, name, ev)
		}
		if err := h.registry.Register(name, registry.KindEvent, eventName, handler); err != nil {
			return err
		}
	}

	for _, path := range regs.Routes {
		if err := check("web.route"); err != nil {
			return err
		}
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := h.invokeRoute(r.Context(), bp, name, r.URL.Path, r.URL.RawQuery)
			if err != nil {
				slog.Warn("plugin route handler failed",
					"plugin", name,
					"path", r.URL.Path,
					"error", err)
				http.Error(w, "plugin error", http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			//nolint:errcheck // response write error means the client went away
			w.Write([]byte(body))
		})
		if err := h.registry.Register(name, registry.KindRoute, path, http.Handler(handler)); err != nil {
			return err
		}
	}

	for _, page := range regs.Pages {
		if err := check("web.page"); err != nil {
			return err
		}
		if err := h.registry.Register(name, registry.KindPage, page.Path, page.Content); err != nil {
			return err
		}
	}

	return nil
}

// Destroy calls the plugin's Destroy over RPC.
func (h *Host) Destroy(ctx context.Context, name string) error {
	bp, err := h.plugin(name, "destroy")
	if err != nil {
		return err
	}

	return h.callWithTimeout(ctx, name, plugins.HookDestroy, func() error {
		return bp.impl.Destroy()
	})
}

// Unload kills the plugin process and releases its slot.
func (h *Host) Unload(_ context.Context, name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	bp, ok := h.plugins[name]
	if !ok {
		return oops.In("goplugin").With("plugin", name).With("operation", "unload").New("plugin not loaded")
	}

	bp.client.Kill()
	delete(h.plugins, name)
	return nil
}

// Plugins returns names of loaded plugins.
func (h *Host) Plugins() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.plugins))
	for name := range h.plugins {
		names = append(names, name)
	}
	return names
}

// Close shuts down the host and all plugin processes.
func (h *Host) Close(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, bp := range h.plugins {
		bp.client.Kill()
	}
	h.closed = true
	h.plugins = nil
	return nil
}

func (h *Host) plugin(name, op string) (*binaryPlugin, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return nil, oops.In("goplugin").With("plugin", name).With("operation", op).New("host is closed")
	}
	bp, ok := h.plugins[name]
	if !ok {
		return nil, oops.In("goplugin").With("plugin", name).With("operation", op).New("plugin not loaded")
	}
	return bp, nil
}

// callWithTimeout bounds one RPC into the plugin by the hook budget.
//
// net/rpc calls cannot be cancelled, so on timeout the in-flight call
// is abandoned: its goroutine drains when the call eventually returns
// or the plugin process is killed.
func (h *Host) callWithTimeout(ctx context.Context, name, what string, fn func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	callCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	select {
	case err := <-done:
		if err != nil {
			return oops.In("goplugin").With("plugin", name).With("call", what).Wrap(err)
		}
		return nil
	case <-callCtx.Done():
		return plugins.ErrHookTimeout(name, what, h.timeout.Milliseconds())
	}
}

func (h *Host) invokeCommand(ctx context.Context, bp *binaryPlugin, name string, ci *command.Invocation) (string, error) {
	var reply string
	err := h.callWithTimeout(ctx, name, "command:"+ci.Name, func() error {
		var callErr error
		reply, callErr = bp.impl.HandleCommand(pluginsdk.CommandInvocation{
			Name:      ci.Name,
			Args:      ci.Args,
			Actor:     ci.Actor,
			RequestID: ci.RequestID,
		})
		return callErr
	})
	return reply, err
}

func (h *Host) invokeEvent(ctx context.Context, bp *binaryPlugin, name string, ev events.Event) error {
	return h.callWithTimeout(ctx, name, "event:"+ev.Name, func() error {
		return bp.impl.HandleEvent(pluginsdk.Event{
			ID:        ev.ID.String(),
			Name:      ev.Name,
			Timestamp: ev.Timestamp.Unix(),
			Actor:     ev.Actor,
			Payload:   ev.Payload,
		})
	})
}

func (h *Host) invokeRoute(ctx context.Context, bp *binaryPlugin, name, path, query string) (string, error) {
	var body string
	err := h.callWithTimeout(ctx, name, "route:"+path, func() error {
		var callErr error
		body, callErr = bp.impl.HandleRoute(path, query)
		return callErr
	})
	return body, err
}
