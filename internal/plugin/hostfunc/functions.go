// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

// Package hostfunc builds the capability facade exposed to Lua plugins.
//
// The facade is a per-plugin `ember` table installed into the sandbox.
// Every registration call is tagged with the owning plugin's identity
// before it reaches the resource registry, and is gated by the
// capability enforcer against the manifest's declared permissions.
package hostfunc

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/oklog/ulid/v2"
	lua "github.com/yuin/gopher-lua"

	"github.com/emberhost/ember/internal/command"
	"github.com/emberhost/ember/internal/events"
	plugins "github.com/emberhost/ember/internal/plugin"
	"github.com/emberhost/ember/internal/plugin/capability"
	"github.com/emberhost/ember/internal/plugin/registry"
)

// Lifecycle is the narrow controller view the facade holds. Plugins use
// it to express soft dependencies; they never see the whole controller.
type Lifecycle interface {
	Enable(ctx context.Context, name string) error
	Disable(ctx context.Context, name string) error
	Plugins() []plugins.Info
}

// Invoker calls back into a plugin's stored handler functions.
// The Lua host implements this; hostfunc stays decoupled from it.
type Invoker interface {
	InvokeCommand(ctx context.Context, plugin string, fn lua.LValue, inv *command.Invocation) (string, error)
	InvokeEvent(ctx context.Context, plugin string, fn lua.LValue, ev events.Event) error
	InvokeRoute(ctx context.Context, plugin string, fn lua.LValue, path, query string) (string, error)
}

// Functions produces capability facades for Lua plugins.
type Functions struct {
	registry  *registry.Registry
	enforcer  *capability.Enforcer
	lifecycle Lifecycle
}

// New creates a facade factory with dependencies.
// Panics if registry or enforcer is nil (programmer error at wiring time).
func New(reg *registry.Registry, enforcer *capability.Enforcer, lc Lifecycle) *Functions {
	if reg == nil {
		panic("hostfunc.New: registry cannot be nil")
	}
	if enforcer == nil {
		panic("hostfunc.New: enforcer cannot be nil")
	}
	return &Functions{
		registry:  reg,
		enforcer:  enforcer,
		lifecycle: lc,
	}
}

// Install builds a fresh facade table for the plugin, sets it as the
// global `ember`, and returns it so the caller can pass it to init.
func (f *Functions) Install(ls *lua.LState, pluginName string, inv Invoker) *lua.LTable {
	mod := ls.NewTable()

	// Logging (no capability required)
	ls.SetField(mod, "log", ls.NewFunction(f.logFn(pluginName)))
	ls.SetField(mod, "get_logger", ls.NewFunction(f.getLoggerFn(pluginName)))
	ls.SetField(mod, "new_request_id", ls.NewFunction(f.newRequestIDFn()))

	// Registrations (capability required)
	ls.SetField(mod, "register_command", ls.NewFunction(f.wrap(pluginName, "chat.command", f.registerCommandFn(pluginName, inv))))
	ls.SetField(mod, "register_event", ls.NewFunction(f.wrap(pluginName, "chat.event", f.registerEventFn(pluginName, inv))))
	ls.SetField(mod, "register_route", ls.NewFunction(f.wrap(pluginName, "web.route", f.registerRouteFn(pluginName, inv))))
	ls.SetField(mod, "register_page", ls.NewFunction(f.wrap(pluginName, "web.page", f.registerPageFn(pluginName))))

	// Read subset of lifecycle operations (no capability required)
	ls.SetField(mod, "list_plugins", ls.NewFunction(f.listPluginsFn()))
	ls.SetField(mod, "enable_plugin", ls.NewFunction(f.enablePluginFn(pluginName)))
	ls.SetField(mod, "disable_plugin", ls.NewFunction(f.disablePluginFn(pluginName)))

	ls.SetGlobal("ember", mod)
	return mod
}

func (f *Functions) wrap(plugin, capName string, fn lua.LGFunction) lua.LGFunction {
	return func(L *lua.LState) int {
		if !f.enforcer.Check(plugin, capName) {
			L.RaiseError("capability denied: %s requires %s", plugin, capName)
			return 0
		}
		return fn(L)
	}
}

func (f *Functions) logFn(pluginName string) lua.LGFunction {
	return func(L *lua.LState) int {
		level := L.CheckString(1)
		message := L.CheckString(2)
		logWith(slog.Default().With("plugin", pluginName), level, message)
		return 0
	}
}

// getLoggerFn returns a table of level functions bound to a namespace.
func (f *Functions) getLoggerFn(pluginName string) lua.LGFunction {
	return func(L *lua.LState) int {
		namespace := L.CheckString(1)
		logger := slog.Default().With("plugin", pluginName, "namespace", namespace)

		t := L.NewTable()
		for _, level := range []string{"debug", "info", "warn", "error"} {
			lvl := level
			L.SetField(t, lvl, L.NewFunction(func(L *lua.LState) int {
				logWith(logger, lvl, L.CheckString(1))
				return 0
			}))
		}
		L.Push(t)
		return 1
	}
}

func logWith(logger *slog.Logger, level, message string) {
	switch level {
	case "debug":
		logger.Debug(message)
	case "info":
		logger.Info(message)
	case "warn":
		logger.Warn(message)
	case "error":
		logger.Error(message)
	default:
		logger.Info(message)
	}
}

func (f *Functions) newRequestIDFn() lua.LGFunction {
	return func(L *lua.LState) int {
		id := ulid.Make()
		L.Push(lua.LString(id.String()))
		return 1
	}
}

// registerCommandFn registers a chat command owned by the plugin.
// Args: name (string), help (string), handler (function).
// Returns: error string, or nothing on success.
func (f *Functions) registerCommandFn(pluginName string, inv Invoker) lua.LGFunction {
	return func(L *lua.LState) int {
		name := L.CheckString(1)
		help := L.CheckString(2)
		fn := L.CheckFunction(3)

		entry := command.Entry{
			Name:   name,
			Help:   help,
			Source: pluginName,
			Handler: func(ctx context.Context, ci *command.Invocation) (string, error) {
				return inv.InvokeCommand(ctx, pluginName, fn, ci)
			},
		}

		if err := f.registry.Register(pluginName, registry.KindCommand, name, entry); err != nil {
			L.Push(lua.LString(err.Error()))
			return 1
		}
		return 0
	}
}

// registerEventFn subscribes the plugin to a platform event.
// Args: event name (string), handler (function).
func (f *Functions) registerEventFn(pluginName string, inv Invoker) lua.LGFunction {
	return func(L *lua.LState) int {
		name := L.CheckString(1)
		fn := L.CheckFunction(2)

		var handler events.Handler = func(ctx context.Context, ev events.Event) error {
			return inv.InvokeEvent(ctx, pluginName, fn, ev)
		}

		if err := f.registry.Register(pluginName, registry.KindEvent, name, handler); err != nil {
			L.Push(lua.LString(err.Error()))
			return 1
		}
		return 0
	}
}

// registerRouteFn registers an HTTP route served by the plugin.
// Args: path (string, must start with "/"), handler (function).
func (f *Functions) registerRouteFn(pluginName string, inv Invoker) lua.LGFunction {
	return func(L *lua.LState) int {
		path := L.CheckString(1)
		fn := L.CheckFunction(2)

		if len(path) == 0 || path[0] != '/' {
			L.Push(lua.LString("route path must start with /"))
			return 1
		}

		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := inv.InvokeRoute(r.Context(), pluginName, fn, r.URL.Path, r.URL.RawQuery)
			if err != nil {
				slog.Warn("plugin route handler failed",
					"plugin", pluginName,
					"path", r.URL.Path,
					"error", err)
				http.Error(w, "plugin error", http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			//nolint:errcheck // response write error means the client went away
			w.Write([]byte(body))
		})

		if err := f.registry.Register(pluginName, registry.KindRoute, path, http.Handler(handler)); err != nil {
			L.Push(lua.LString(err.Error()))
			return 1
		}
		return 0
	}
}

// registerPageFn registers a static page owned by the plugin.
// Args: path (string, must start with "/"), content (HTML string).
func (f *Functions) registerPageFn(pluginName string) lua.LGFunction {
	return func(L *lua.LState) int {
		path := L.CheckString(1)
		content := L.CheckString(2)

		if len(path) == 0 || path[0] != '/' {
			L.Push(lua.LString("page path must start with /"))
			return 1
		}

		if err := f.registry.Register(pluginName, registry.KindPage, path, content); err != nil {
			L.Push(lua.LString(err.Error()))
			return 1
		}
		return 0
	}
}

// listPluginsFn returns the catalog snapshot as an array of tables.
func (f *Functions) listPluginsFn() lua.LGFunction {
	return func(L *lua.LState) int {
		if f.lifecycle == nil {
			L.Push(lua.LNil)
			L.Push(lua.LString("lifecycle not available"))
			return 2
		}

		tbl := L.NewTable()
		for i, info := range f.lifecycle.Plugins() {
			t := L.NewTable()
			L.SetField(t, "name", lua.LString(info.Name))
			L.SetField(t, "version", lua.LString(info.Version))
			L.SetField(t, "state", lua.LString(info.State.String()))
			L.SetTable(tbl, lua.LNumber(i+1), t)
		}

		L.Push(tbl)
		L.Push(lua.LNil) // no error
		return 2
	}
}

// enablePluginFn lets a plugin enable another plugin (soft dependency).
// A plugin cannot toggle itself.
func (f *Functions) enablePluginFn(pluginName string) lua.LGFunction {
	return func(L *lua.LState) int {
		target := L.CheckString(1)
		return f.toggle(L, pluginName, target, true)
	}
}

// disablePluginFn lets a plugin disable another plugin.
func (f *Functions) disablePluginFn(pluginName string) lua.LGFunction {
	return func(L *lua.LState) int {
		target := L.CheckString(1)
		return f.toggle(L, pluginName, target, false)
	}
}

func (f *Functions) toggle(L *lua.LState, pluginName, target string, enable bool) int {
	if f.lifecycle == nil {
		L.Push(lua.LString("lifecycle not available"))
		return 1
	}
	if target == pluginName {
		L.Push(lua.LString("a plugin cannot toggle itself"))
		return 1
	}

	ctx := L.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var err error
	if enable {
		err = f.lifecycle.Enable(ctx, target)
	} else {
		err = f.lifecycle.Disable(ctx, target)
	}
	if err != nil {
		L.Push(lua.LString(err.Error()))
		return 1
	}
	return 0
}
