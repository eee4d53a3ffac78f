// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/emberhost/ember/internal/command"
	"github.com/emberhost/ember/internal/config"
	"github.com/emberhost/ember/internal/events"
	"github.com/emberhost/ember/internal/logging"
	"github.com/emberhost/ember/internal/observability"
	"github.com/emberhost/ember/internal/plugin"
	"github.com/emberhost/ember/internal/plugin/capability"
	"github.com/emberhost/ember/internal/plugin/goplugin"
	"github.com/emberhost/ember/internal/plugin/hostfunc"
	luahost "github.com/emberhost/ember/internal/plugin/lua"
	"github.com/emberhost/ember/internal/plugin/registry"
	"github.com/emberhost/ember/internal/plugin/repohttp"
	"github.com/emberhost/ember/internal/plugin/state"
	"github.com/emberhost/ember/internal/web"
	"github.com/emberhost/ember/pkg/errutil"
)

// maxCommandBody caps the /api/command and /api/event request bodies.
const maxCommandBody = 64 << 10

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the plugin host",
		Long: `Run the plugin host: discover and load installed plugins, serve
their web pages and routes, and dispatch chat commands and events to them.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	config.RegisterFlags(cmd.Flags())
	return cmd
}

// lifecycleProxy defers the controller reference: the capability facade
// is built before the controller that it exposes.
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

func runServe(ctx context.Context, cfg *config.Config) error {
	logging.SetDefault("ember", version, cfg.LogFormat)

	if err := cfg.EnsureDirs(); err != nil {
		return err
	}

	slog.Info("starting ember", "version", version, "config", cfg.String())

	enforcer := capability.NewEnforcer()
	cmdTable := command.NewTable()
	bus := events.NewBus()
	routes := web.NewRouteTable()
	pages := web.NewPageTable()

	reg := registry.New(registry.Tables{
		Commands: cmdTable,
		Events:   bus,
		Routes:   routes,
		Pages:    pages,
	})

	proxy := &lifecycleProxy{}
	funcs := hostfunc.New(reg, enforcer, proxy)

	hosts := map[plugin.Runtime]plugin.Host{
		plugin.RuntimeLua:    luahost.NewHost(funcs, luahost.WithTimeout(cfg.HookTimeout)),
		plugin.RuntimeBinary: goplugin.NewHost(reg, enforcer, goplugin.WithTimeout(cfg.HookTimeout)),
	}

	var source plugin.Source
	if cfg.Repository != "" {
		src, err := repohttp.New(cfg.Repository)
		if err != nil {
			return err
		}
		source = src
	}

	ctrl, err := plugin.NewController(plugin.ControllerConfig{
		Dir:         cfg.PluginsDir,
		HostVersion: hostVersion(),
		Hosts:       hosts,
		Resources:   reg,
		Grants:      enforcer,
		States:      state.NewStore(cfg.DataDir),
		Source:      source,
	})
	if err != nil {
		return err
	}
	proxy.c = ctrl

	discovered, err := ctrl.Discover(ctx)
	if err != nil {
		return err
	}
	slog.Info("plugin discovery complete", "count", len(discovered))

	if err := ctrl.LoadAll(ctx); err != nil {
		errutil.LogError(slog.Default(), "some plugins failed to load", err)
	}

	dispatcher := command.NewDispatcher(cmdTable)
	bindHostRoutes(routes, dispatcher, bus)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	webServer := web.NewServer(cfg.WebAddr, routes, pages)
	webErrCh, err := webServer.Start()
	if err != nil {
		return err
	}
	go monitorServerErrors(ctx, cancel, webErrCh, "web")
	slog.Info("web server started", "addr", webServer.Addr())

	var obsServer *observability.Server
	if cfg.MetricsAddr != "" {
		obsServer = observability.NewServer(cfg.MetricsAddr, func() bool { return true })
		obsErrCh, err := obsServer.Start()
		if err != nil {
			stopWeb(webServer)
			return err
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	slog.Info("ember ready", "plugins", len(ctrl.Plugins()))

	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	}

	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := ctrl.Close(shutdownCtx); err != nil {
		errutil.LogError(slog.Default(), "error closing plugin controller", err)
	}
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			slog.Warn("error stopping observability server", "error", err)
		}
	}
	if err := webServer.Stop(shutdownCtx); err != nil {
		slog.Warn("error stopping web server", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// hostVersion returns the build version as semver, falling back to a
// dev pseudo-version for unversioned builds.
func hostVersion() string {
	if _, err := semver.NewVersion(version); err != nil {
		return "0.0.0-dev"
	}
	return version
}

// bindHostRoutes claims the host API paths before any plugin can.
// Commands and events enter the system here.
func bindHostRoutes(routes *web.RouteTable, dispatcher *command.Dispatcher, bus *events.Bus) {
	commandHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		input, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBody))
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		inv := &command.Invocation{
			Actor:     r.URL.Query().Get("actor"),
			RequestID: ulid.Make().String(),
		}
		reply, err := dispatcher.Dispatch(r.Context(), string(input), inv)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		//nolint:errcheck // response write error means the client went away
		w.Write([]byte(reply))
	})

	eventHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		name := r.URL.Query().Get("name")
		if name == "" {
			http.Error(w, "event name is required", http.StatusBadRequest)
			return
		}
		payload, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBody))
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		ev := events.NewEvent(name, r.URL.Query().Get("actor"), payload)
		bus.Dispatch(r.Context(), ev)
		w.WriteHeader(http.StatusAccepted)
	})

	// Bind directly so no plugin owner is recorded for host surfaces.
	if err := routes.Bind("/api/command", http.Handler(commandHandler)); err != nil {
		slog.Warn("failed to bind host command route", "error", err)
	}
	if err := routes.Bind("/api/event", http.Handler(eventHandler)); err != nil {
		slog.Warn("failed to bind host event route", "error", err)
	}
}

func stopWeb(s *web.Server) {
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(stopCtx); err != nil {
		slog.Warn("failed to stop web server during cleanup", "error", err)
	}
}

// monitorServerErrors cancels the run context when a server reports an
// error, so a dead listener shuts the whole process down cleanly.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
