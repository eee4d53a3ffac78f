// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

//go:build integration

package integration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/emberhost/ember/internal/command"
	"github.com/emberhost/ember/internal/events"
	"github.com/emberhost/ember/internal/plugin"
	"github.com/emberhost/ember/internal/plugin/capability"
	"github.com/emberhost/ember/internal/plugin/hostfunc"
	luahost "github.com/emberhost/ember/internal/plugin/lua"
	"github.com/emberhost/ember/internal/plugin/registry"
	"github.com/emberhost/ember/internal/plugin/repohttp"
	"github.com/emberhost/ember/internal/plugin/state"
	"github.com/emberhost/ember/internal/web"
)

// host bundles a fully wired Ember host over temp directories, the same
// component graph the serve command builds.
type host struct {
	ctrl       *plugin.Controller
	enforcer   *capability.Enforcer
	commands   *command.Table
	dispatcher *command.Dispatcher
	bus        *events.Bus
	routes     *web.RouteTable
	pages      *web.PageTable
	pluginsDir string
	dataDir    string
}

// lifecycleProxy defers controller wiring, mirroring the serve command.
type lifecycleProxy struct {
	c *plugin.Controller
}

func (p *lifecycleProxy) Enable(ctx context.Context, name string) error {
	return p.c.Enable(ctx, name)
}

func (p *lifecycleProxy) Disable(ctx context.Context, name string) error {
	return p.c.Disable(ctx, name)
}

func (p *lifecycleProxy) Plugins() []plugin.Info {
	return p.c.Plugins()
}

func newHost(source plugin.Source) *host {
	h := &host{
		enforcer:   capability.NewEnforcer(),
		commands:   command.NewTable(),
		bus:        events.NewBus(),
		routes:     web.NewRouteTable(),
		pages:      web.NewPageTable(),
		pluginsDir: GinkgoT().TempDir(),
		dataDir:    GinkgoT().TempDir(),
	}
	h.dispatcher = command.NewDispatcher(h.commands)

	reg := registry.New(registry.Tables{
		Commands: h.commands,
		Events:   h.bus,
		Routes:   h.routes,
		Pages:    h.pages,
	})
	proxy := &lifecycleProxy{}
	funcs := hostfunc.New(reg, h.enforcer, proxy)

	ctrl, err := plugin.NewController(plugin.ControllerConfig{
		Dir:         h.pluginsDir,
		HostVersion: "1.0.0",
		Hosts: map[plugin.Runtime]plugin.Host{
			plugin.RuntimeLua: luahost.NewHost(funcs),
		},
		Resources: reg,
		Grants:    h.enforcer,
		States:    state.NewStore(h.dataDir),
		Source:    source,
	})
	Expect(err).NotTo(HaveOccurred())
	proxy.c = ctrl
	h.ctrl = ctrl

	DeferCleanup(func() {
		Expect(ctrl.Close(context.Background())).To(Succeed())
	})
	return h
}

func (h *host) writePlugin(name, manifest, source string) {
	dir := filepath.Join(h.pluginsDir, name)
	Expect(os.MkdirAll(dir, 0o750)).To(Succeed())
	Expect(os.WriteFile(filepath.Join(dir, "plugin.json"), []byte(manifest), 0o600)).To(Succeed())
	Expect(os.WriteFile(filepath.Join(dir, "main.lua"), []byte(source), 0o600)).To(Succeed())
}

const echoManifest = `{
	"name": "echo",
	"version": "1.0.0",
	"entry": "main.lua",
	"runtime": "lua",
	"permissions": {"chat": ["command", "event"], "web": ["page", "route"]}
}`

const echoSource = `
seen = 0
function init(ember)
	ember.register_command("echo", "repeat the input", function(inv)
		return "echo: " .. inv.args
	end)
	ember.register_event("message", function(ev)
		seen = seen + 1
	end)
	ember.register_command("seen", "messages seen", function(inv)
		return "seen " .. seen
	end)
	ember.register_page("/echo", "<h1>Echo</h1>")
end
function destroy()
end
`

var _ = Describe("Plugin lifecycle", func() {
	var h *host

	BeforeEach(func() {
		h = newHost(nil)
		h.writePlugin("echo", echoManifest, echoSource)
	})

	It("discovers, loads, and auto-enables a plugin end to end", func(ctx SpecContext) {
		Expect(h.ctrl.LoadAll(ctx)).To(Succeed())

		infos := h.ctrl.Plugins()
		Expect(infos).To(HaveLen(1))
		Expect(infos[0].State).To(Equal(plugin.StateEnabled))

		reply, err := h.dispatcher.Dispatch(ctx, "echo hello world", &command.Invocation{Actor: "user-1"})
		Expect(err).NotTo(HaveOccurred())
		Expect(reply).To(Equal("echo: hello world"))
	})

	It("delivers platform events into the plugin state", func(ctx SpecContext) {
		Expect(h.ctrl.LoadAll(ctx)).To(Succeed())

		h.bus.Dispatch(ctx, events.NewEvent("message", "user-1", nil))
		h.bus.Dispatch(ctx, events.NewEvent("message", "user-2", nil))

		reply, err := h.dispatcher.Dispatch(ctx, "seen", &command.Invocation{})
		Expect(err).NotTo(HaveOccurred())
		Expect(reply).To(Equal("seen 2"))
	})

	It("serves registered pages through the web surface", func(ctx SpecContext) {
		Expect(h.ctrl.LoadAll(ctx)).To(Succeed())

		srv := web.NewServer("127.0.0.1:0", h.routes, h.pages)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/echo", nil))

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("<h1>Echo</h1>"))
	})

	It("revokes every resource on disable", func(ctx SpecContext) {
		Expect(h.ctrl.LoadAll(ctx)).To(Succeed())
		Expect(h.ctrl.Disable(ctx, "echo")).To(Succeed())

		_, err := h.dispatcher.Dispatch(ctx, "echo gone", &command.Invocation{})
		Expect(err).To(HaveOccurred())
		Expect(h.bus.Has("message")).To(BeFalse())

		_, ok := h.pages.Get("/echo")
		Expect(ok).To(BeFalse())
	})

	It("keeps a disabled plugin disabled across a restart", func(ctx SpecContext) {
		Expect(h.ctrl.LoadAll(ctx)).To(Succeed())
		Expect(h.ctrl.Disable(ctx, "echo")).To(Succeed())

		// Restart: a fresh host over the same directories.
		restarted := &host{
			enforcer:   capability.NewEnforcer(),
			commands:   command.NewTable(),
			bus:        events.NewBus(),
			routes:     web.NewRouteTable(),
			pages:      web.NewPageTable(),
			pluginsDir: h.pluginsDir,
			dataDir:    h.dataDir,
		}
		reg := registry.New(registry.Tables{
			Commands: restarted.commands,
			Events:   restarted.bus,
			Routes:   restarted.routes,
			Pages:    restarted.pages,
		})
		ctrl, err := plugin.NewController(plugin.ControllerConfig{
			Dir:         restarted.pluginsDir,
			HostVersion: "1.0.0",
			Hosts: map[plugin.Runtime]plugin.Host{
				plugin.RuntimeLua: luahost.NewHost(hostfunc.New(reg, restarted.enforcer, nil)),
			},
			Resources: reg,
			Grants:    restarted.enforcer,
			States:    state.NewStore(restarted.dataDir),
		})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() {
			Expect(ctrl.Close(context.Background())).To(Succeed())
		})

		Expect(ctrl.LoadAll(ctx)).To(Succeed())
		infos := ctrl.Plugins()
		Expect(infos).To(HaveLen(1))
		Expect(infos[0].State).To(Equal(plugin.StateLoaded))
		_, ok := restarted.commands.Get("echo")
		Expect(ok).To(BeFalse())
	})

	It("picks up changed source on reload", func(ctx SpecContext) {
		Expect(h.ctrl.LoadAll(ctx)).To(Succeed())

		changed := `
function init(ember)
	ember.register_command("echo", "v2", function(inv)
		return "echo v2: " .. inv.args
	end)
end
function destroy()
end
`
		Expect(os.WriteFile(filepath.Join(h.pluginsDir, "echo", "main.lua"), []byte(changed), 0o600)).To(Succeed())
		Expect(h.ctrl.Reload(ctx, "echo")).To(Succeed())

		reply, err := h.dispatcher.Dispatch(ctx, "echo hi", &command.Invocation{})
		Expect(err).NotTo(HaveOccurred())
		Expect(reply).To(Equal("echo v2: hi"))
	})
})

var _ = Describe("Resource conflicts between plugins", func() {
	It("lets the first claimant keep the key", func(ctx SpecContext) {
		h := newHost(nil)
		h.writePlugin("alpha", `{
			"name": "alpha", "entry": "main.lua",
			"permissions": {"chat": ["command"]}
		}`, `
function init(ember)
	ember.register_command("shared", "from alpha", function(inv)
		return "alpha"
	end)
end
function destroy() end
`)
		h.writePlugin("beta", `{
			"name": "beta", "entry": "main.lua",
			"permissions": {"chat": ["command"]}
		}`, `
function init(ember)
	local err = ember.register_command("shared", "from beta", function(inv)
		return "beta"
	end)
	conflict = err
end
function destroy() end
`)

		Expect(h.ctrl.LoadAll(ctx)).To(Succeed())

		reply, err := h.dispatcher.Dispatch(ctx, "shared", &command.Invocation{})
		Expect(err).NotTo(HaveOccurred())
		// Directory order is deterministic: alpha loads first and wins.
		Expect(reply).To(Equal("alpha"))
	})
})

var _ = Describe("Capability enforcement", func() {
	It("rejects registrations outside the manifest grants", func(ctx SpecContext) {
		h := newHost(nil)
		h.writePlugin("sneaky", `{
			"name": "sneaky", "entry": "main.lua",
			"permissions": {"chat": ["event"]}
		}`, `
function init(ember)
	ember.register_command("steal", "", function() end)
end
function destroy() end
`)

		Expect(h.ctrl.LoadAll(ctx)).To(Succeed())

		infos := h.ctrl.Plugins()
		Expect(infos).To(HaveLen(1))
		Expect(infos[0].State).NotTo(Equal(plugin.StateEnabled))
		_, ok := h.commands.Get("steal")
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("Installing from a repository", func() {
	It("fetches, writes, and enables a plugin over HTTP", func(ctx SpecContext) {
		files := map[string]string{
			"/dice/plugin.json": `{
				"name": "dice", "version": "0.3.0", "entry": "main.lua",
				"permissions": {"chat": ["command"]}
			}`,
			"/dice/main.lua": `
function init(ember)
	ember.register_command("roll", "roll dice", function(inv)
		return "rolled " .. inv.args
	end)
end
function destroy() end
`,
		}
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, ok := files[r.URL.Path]
			if !ok {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write([]byte(body))
		}))
		DeferCleanup(srv.Close)

		source, err := repohttp.New(srv.URL)
		Expect(err).NotTo(HaveOccurred())

		h := newHost(source)
		Expect(h.ctrl.Install(ctx, "dice")).To(Succeed())

		infos := h.ctrl.Plugins()
		Expect(infos).To(HaveLen(1))
		Expect(infos[0].State).To(Equal(plugin.StateEnabled))

		reply, err := h.dispatcher.Dispatch(ctx, "roll 2d6", &command.Invocation{})
		Expect(err).NotTo(HaveOccurred())
		Expect(reply).To(Equal("rolled 2d6"))
	})
})
