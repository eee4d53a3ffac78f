// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package lua

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/emberhost/ember/internal/command"
	"github.com/emberhost/ember/internal/events"
	plugins "github.com/emberhost/ember/internal/plugin"
	"github.com/emberhost/ember/internal/plugin/hostfunc"
)

// Compile-time interface checks.
var (
	_ plugins.Host     = (*Host)(nil)
	_ hostfunc.Invoker = (*Host)(nil)
)

// pluginRuntime holds the persistent Lua state for one loaded plugin.
// Handler closures registered during init live in this state, so it
// survives until unload. All entries into the state are serialized by mu.
type pluginRuntime struct {
	manifest *plugins.Manifest
	dir      string
	state    *lua.LState
	mu       sync.Mutex
}

// Host manages Lua plugins.
type Host struct {
	factory *StateFactory
	funcs   *hostfunc.Functions
	timeout time.Duration
	plugins map[string]*pluginRuntime
	mu      sync.RWMutex
	closed  bool
}

// Option configures the Host.
type Option func(*Host)

// WithTimeout overrides the default hook timeout.
func WithTimeout(d time.Duration) Option {
	return func(h *Host) {
		h.timeout = d
	}
}

// NewHost creates a Lua plugin host. The facade factory provides each
// plugin's ember.* API. Panics if funcs is nil (consistent with
// hostfunc.New).
func NewHost(funcs *hostfunc.Functions, opts ...Option) *Host {
	if funcs == nil {
		panic("lua.NewHost: funcs cannot be nil")
	}
	h := &Host{
		factory: NewStateFactory(),
		funcs:   funcs,
		timeout: plugins.DefaultHookTimeout,
		plugins: make(map[string]*pluginRuntime),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Load reads the entry file from disk and executes it in a fresh
// sandboxed state. Loading an already loaded plugin replaces its state,
// so a disable/load/enable cycle always runs current source.
func (h *Host) Load(ctx context.Context, manifest *plugins.Manifest, dir string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return oops.In("lua").With("plugin", manifest.Name).With("operation", "load").New("host is closed")
	}

	entryPath := filepath.Join(dir, manifest.Entry)
	code, err := os.ReadFile(filepath.Clean(entryPath))
	if err != nil {
		return oops.In("lua").With("plugin", manifest.Name).With("operation", "load").With("path", entryPath).Hint("failed to read entry file").Wrap(err)
	}

	L, err := h.factory.NewState(ctx)
	if err != nil {
		return oops.In("lua").With("plugin", manifest.Name).With("operation", "load").Hint("failed to create state").Wrap(err)
	}

	// Top-level plugin code runs under the hook time budget too.
	loadCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	L.SetContext(loadCtx)

	if err := L.DoString(string(code)); err != nil {
		L.Close()
		return oops.In("lua").With("plugin", manifest.Name).With("operation", "load").With("entry", manifest.Entry).Wrap(err)
	}
	L.RemoveContext()

	if old, ok := h.plugins[manifest.Name]; ok {
		old.mu.Lock()
		old.state.Close()
		old.mu.Unlock()
	}

	h.plugins[manifest.Name] = &pluginRuntime{
		manifest: manifest,
		dir:      dir,
		state:    L,
	}

	return nil
}

// Init installs a fresh capability facade and runs the init hook with it.
func (h *Host) Init(ctx context.Context, name string) error {
	rt, err := h.runtime(name, "init")
	if err != nil {
		return err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	facade := h.funcs.Install(rt.state, name, h)
	return h.callHook(ctx, rt, name, plugins.HookInit, facade)
}

// Destroy runs the destroy hook.
func (h *Host) Destroy(ctx context.Context, name string) error {
	rt, err := h.runtime(name, "destroy")
	if err != nil {
		return err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	return h.callHook(ctx, rt, name, plugins.HookDestroy)
}

// Unload closes a plugin's state and releases its module.
func (h *Host) Unload(_ context.Context, name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	rt, ok := h.plugins[name]
	if !ok {
		return oops.In("lua").With("plugin", name).With("operation", "unload").New("plugin not loaded")
	}

	rt.mu.Lock()
	rt.state.Close()
	rt.mu.Unlock()

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

// Close shuts down the host and all plugin states.
func (h *Host) Close(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, rt := range h.plugins {
		rt.mu.Lock()
		rt.state.Close()
		rt.mu.Unlock()
	}
	h.closed = true
	h.plugins = nil
	return nil
}

func (h *Host) runtime(name, op string) (*pluginRuntime, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return nil, oops.In("lua").With("plugin", name).With("operation", op).New("host is closed")
	}
	rt, ok := h.plugins[name]
	if !ok {
		return nil, oops.In("lua").With("plugin", name).With("operation", op).New("plugin not loaded")
	}
	return rt, nil
}

// callHook runs a global hook function under the hook time budget.
// The caller must hold rt.mu.
//
// The budget guards only this call: handler closures the plugin
// registered stay callable afterwards, and any work the plugin arranged
// for outside the hook is not forcibly terminated.
func (h *Host) callHook(ctx context.Context, rt *pluginRuntime, name, hook string, args ...lua.LValue) error {
	fn := rt.state.GetGlobal(hook)
	if fn.Type() != lua.LTFunction {
		return plugins.ErrHookMissing(name, hook)
	}

	callCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	rt.state.SetContext(callCtx)
	defer rt.state.RemoveContext()

	err := rt.state.CallByParam(lua.P{
		Fn:      fn,
		NRet:    0,
		Protect: true,
	}, args...)
	if err != nil {
		if callCtx.Err() != nil {
			return plugins.ErrHookTimeout(name, hook, h.timeout.Milliseconds())
		}
		return oops.In("lua").With("plugin", name).With("hook", hook).Wrap(err)
	}
	return nil
}

// InvokeCommand calls a stored command handler. The returned string is
// the chat reply; nil or missing return values reply with nothing.
func (h *Host) InvokeCommand(ctx context.Context, plugin string, fn lua.LValue, inv *command.Invocation) (string, error) {
	rt, err := h.runtime(plugin, "command")
	if err != nil {
		return "", err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	t := rt.state.NewTable()
	rt.state.SetField(t, "name", lua.LString(inv.Name))
	rt.state.SetField(t, "args", lua.LString(inv.Args))
	rt.state.SetField(t, "actor", lua.LString(inv.Actor))
	rt.state.SetField(t, "request_id", lua.LString(inv.RequestID))

	ret, err := h.call(ctx, rt, plugin, "command:"+inv.Name, fn, 1, t)
	if err != nil {
		return "", err
	}
	if ret == nil || ret.Type() == lua.LTNil {
		return "", nil
	}
	return ret.String(), nil
}

// InvokeEvent calls a stored event handler.
func (h *Host) InvokeEvent(ctx context.Context, plugin string, fn lua.LValue, ev events.Event) error {
	rt, err := h.runtime(plugin, "event")
	if err != nil {
		return err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	t := rt.state.NewTable()
	rt.state.SetField(t, "id", lua.LString(ev.ID.String()))
	rt.state.SetField(t, "name", lua.LString(ev.Name))
	rt.state.SetField(t, "timestamp", lua.LNumber(ev.Timestamp.Unix()))
	rt.state.SetField(t, "actor", lua.LString(ev.Actor))
	rt.state.SetField(t, "payload", lua.LString(ev.Payload))

	_, err = h.call(ctx, rt, plugin, "event:"+ev.Name, fn, 0, t)
	return err
}

// InvokeRoute calls a stored route handler and returns the response body.
func (h *Host) InvokeRoute(ctx context.Context, plugin string, fn lua.LValue, path, query string) (string, error) {
	rt, err := h.runtime(plugin, "route")
	if err != nil {
		return "", err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	t := rt.state.NewTable()
	rt.state.SetField(t, "path", lua.LString(path))
	rt.state.SetField(t, "query", lua.LString(query))

	ret, err := h.call(ctx, rt, plugin, "route:"+path, fn, 1, t)
	if err != nil {
		return "", err
	}
	if ret == nil || ret.Type() == lua.LTNil {
		return "", nil
	}
	return ret.String(), nil
}

// call runs a stored handler function under the hook time budget.
// The caller must hold rt.mu.
func (h *Host) call(ctx context.Context, rt *pluginRuntime, plugin, what string, fn lua.LValue, nret int, args ...lua.LValue) (lua.LValue, error) {
	callCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	rt.state.SetContext(callCtx)
	defer rt.state.RemoveContext()

	err := rt.state.CallByParam(lua.P{
		Fn:      fn,
		NRet:    nret,
		Protect: true,
	}, args...)
	if err != nil {
		if callCtx.Err() != nil {
			return nil, plugins.ErrHookTimeout(plugin, what, h.timeout.Milliseconds())
		}
		return nil, oops.In("lua").With("plugin", plugin).With("handler", what).Wrap(err)
	}

	if nret == 0 {
		return nil, nil
	}
	ret := rt.state.Get(-1)
	rt.state.Pop(1)
	return ret, nil
}
