// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package plugin

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"

	"github.com/emberhost/ember/internal/plugin/registry"
)

// ResourceRevoker is the registry surface the controller needs to tear
// down a plugin's registrations.
type ResourceRevoker interface {
	RevokeKind(owner string, kind registry.Kind) int
	RevokeAll(owner string) int
}

// GrantStore configures capability grants per plugin.
type GrantStore interface {
	SetGrants(plugin string, capabilities []string) error
	RemoveGrants(plugin string)
}

// StateStore persists each plugin's enabled flag across restarts.
type StateStore interface {
	Load() (map[string]bool, error)
	SetEnabled(name string, enabled bool) error
	Remove(name string) error
}

// Controller is the sole authority over plugin state transitions.
// It owns the catalog; no other component writes a Record's state tag.
type Controller struct {
	dir       string
	version   *semver.Version
	hosts     map[Runtime]Host
	resources ResourceRevoker
	grants    GrantStore
	states    StateStore
	source    Source // optional; nil disables Install

	mu      sync.RWMutex // guards records
	records map[string]*Record
	ops     keyedLocks // one lifecycle transition in flight per plugin
}

// ControllerConfig wires a Controller's collaborators.
type ControllerConfig struct {
	Dir         string
	HostVersion string
	Hosts       map[Runtime]Host
	Resources   ResourceRevoker
	Grants      GrantStore
	States      StateStore
	Source      Source
}

// NewController creates a lifecycle controller.
func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.Dir == "" {
		return nil, oops.Errorf("plugins directory is required")
	}
	if len(cfg.Hosts) == 0 {
		return nil, oops.Errorf("at least one runtime host is required")
	}
	if cfg.Resources == nil || cfg.Grants == nil || cfg.States == nil {
		return nil, oops.Errorf("resources, grants, and states are required")
	}

	version, err := semver.NewVersion(cfg.HostVersion)
	if err != nil {
		return nil, oops.With("version", cfg.HostVersion).Wrap(err)
	}

	return &Controller{
		dir:       cfg.Dir,
		version:   version,
		hosts:     cfg.Hosts,
		resources: cfg.Resources,
		grants:    cfg.Grants,
		states:    cfg.States,
		source:    cfg.Source,
		records:   make(map[string]*Record),
	}, nil
}

// Discover scans the plugins directory and catalogs every valid manifest.
// Malformed manifests are logged and skipped; discovery continues for the
// rest. Directory-listing order; dependency declarations are advisory
// metadata and impose no load order.
func (c *Controller) Discover(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // No plugins directory
		}
		return nil, oops.With("dir", c.dir).Wrap(err)
	}

	var discovered []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		name := entry.Name()
		c.mu.RLock()
		_, known := c.records[name]
		c.mu.RUnlock()
		if known {
			continue
		}

		pluginDir := filepath.Join(c.dir, name)
		manifest, err := c.readManifest(pluginDir)
		if err != nil {
			slog.Warn("skipping plugin with invalid manifest",
				"dir", name,
				"error", err)
			continue
		}

		if manifest.Name != name {
			slog.Warn("skipping plugin: manifest name does not match directory",
				"dir", name,
				"manifest_name", manifest.Name)
			continue
		}

		c.mu.Lock()
		c.records[name] = &Record{
			Manifest: manifest,
			Dir:      pluginDir,
			State:    StateDiscovered,
		}
		c.mu.Unlock()

		discovered = append(discovered, name)
	}

	return discovered, nil
}

// readManifest reads and validates a plugin.json: schema first, then
// semantic rules.
func (c *Controller) readManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFilename)) //nolint:gosec // path constructed from ReadDir entries
	if err != nil {
		return nil, ErrManifestInvalid(dir, err)
	}
	if err := ValidateSchema(data); err != nil {
		return nil, ErrManifestInvalid(dir, err)
	}
	manifest, err := ParseManifest(data)
	if err != nil {
		return nil, ErrManifestInvalid(dir, err)
	}
	return manifest, nil
}

// LoadAll discovers and loads every plugin in the plugins directory.
// Individual plugin failures are logged and skipped so one faulty plugin
// cannot keep the rest from starting.
func (c *Controller) LoadAll(ctx context.Context) error {
	discovered, err := c.Discover(ctx)
	if err != nil {
		return err
	}

	for _, name := range discovered {
		if err := c.Load(ctx, name); err != nil {
			slog.Error("failed to load plugin",
				"plugin", name,
				"error", err)
			continue
		}
	}

	return nil
}

// Load acquires the entry module for a discovered plugin, then consults
// the persisted state: a stored false leaves the plugin Loaded, anything
// else auto-enables it.
func (c *Controller) Load(ctx context.Context, name string) error {
	unlock := c.ops.lock(name)
	defer unlock()

	rec, err := c.record(name)
	if err != nil {
		return err
	}
	return c.load(ctx, rec)
}

// load runs the load transition. Caller holds the plugin's op lock.
func (c *Controller) load(ctx context.Context, rec *Record) error {
	name := rec.Manifest.Name

	compatible, err := rec.Manifest.Compatible(c.version)
	if err != nil {
		return ErrLoadFailed(name, err)
	}
	if !compatible {
		c.setState(rec, StateFailed)
		RecordTransition("load", StatusError)
		return ErrLoadFailed(name, oops.
			With("declared", rec.Manifest.Compatibility.Core).
			With("host", c.version.String()).
			Errorf("plugin is not compatible with host version %s", c.version))
	}

	if err := c.grants.SetGrants(name, rec.Manifest.Capabilities()); err != nil {
		c.setState(rec, StateFailed)
		RecordTransition("load", StatusError)
		return ErrLoadFailed(name, err)
	}

	host, err := c.host(rec)
	if err != nil {
		return err
	}

	if err := host.Load(ctx, rec.Manifest, rec.Dir); err != nil {
		c.setState(rec, StateFailed)
		RecordTransition("load", StatusError)
		return ErrLoadFailed(name, err)
	}

	c.setState(rec, StateLoaded)
	RecordTransition("load", StatusSuccess)

	slog.Info("loaded plugin",
		"plugin", name,
		"runtime", rec.Manifest.EffectiveRuntime(),
		"version", rec.Manifest.Version)

	if !c.wantEnabled(name) {
		return nil
	}
	return c.enable(ctx, rec)
}

// wantEnabled consults the persisted state. Absence of an entry means
// enabled by default; a state read failure is downgraded to a warning
// and also defaults to enabled.
func (c *Controller) wantEnabled(name string) bool {
	m, err := c.states.Load()
	if err != nil {
		slog.Warn("failed to read plugin state, defaulting to enabled",
			"plugin", name,
			"error", err)
		return true
	}
	enabled, ok := m[name]
	return !ok || enabled
}

// Enable runs the plugin's init hook with a fresh capability facade and
// flips it to Enabled. A no-op when already enabled. Hook failures are
// propagated to the caller; the plugin keeps its prior state.
func (c *Controller) Enable(ctx context.Context, name string) error {
	unlock := c.ops.lock(name)
	defer unlock()

	rec, err := c.record(name)
	if err != nil {
		return err
	}

	// Enable on a never-loaded record loads first. The explicit request
	// overrides a persisted disable, so init always follows the load.
	if rec.State == StateDiscovered || rec.State == StateFailed {
		if err := c.load(ctx, rec); err != nil {
			return err
		}
	}
	return c.enable(ctx, rec)
}

// enable runs the enable transition. Caller holds the plugin's op lock.
func (c *Controller) enable(ctx context.Context, rec *Record) error {
	if rec.State == StateEnabled {
		return nil
	}
	name := rec.Manifest.Name

	host, err := c.host(rec)
	if err != nil {
		return err
	}

	start := time.Now()
	err = host.Init(ctx, name)
	RecordHookDuration(HookInit, time.Since(start))
	if err != nil {
		RecordTransition("enable", StatusError)
		// Init may have registered resources before failing. A plugin
		// that never enabled must own nothing.
		c.resources.RevokeAll(name)
		slog.Error("plugin init failed",
			"plugin", name,
			"error", err)
		if HasCode(err, CodeHookTimeout) || HasCode(err, CodeHookMissing) {
			return err
		}
		return ErrInitFailed(name, err)
	}

	c.setState(rec, StateEnabled)
	EnabledPlugins.Inc()
	RecordTransition("enable", StatusSuccess)

	if err := c.states.SetEnabled(name, true); err != nil {
		slog.Warn("failed to persist plugin state",
			"plugin", name,
			"error", err)
	}

	slog.Info("enabled plugin", "plugin", name)
	return nil
}

// Disable revokes the plugin's chat commands, runs its destroy hook,
// flips it to Disabled, and revokes everything it still owns. A no-op
// when already disabled or never loaded. Destroy failures are logged,
// never propagated:
// a plugin that fails to clean up must not block disabling.
func (c *Controller) Disable(ctx context.Context, name string) error {
	unlock := c.ops.lock(name)
	defer unlock()

	rec, err := c.record(name)
	if err != nil {
		return err
	}
	return c.disable(ctx, rec)
}

// disable runs the disable transition. Caller holds the plugin's op lock.
// Disabled is reserved for plugins that have been loaded; a Discovered
// record has nothing to quiesce and stays as it is.
func (c *Controller) disable(ctx context.Context, rec *Record) error {
	if rec.State == StateDisabled || rec.State == StateDiscovered {
		return nil
	}
	name := rec.Manifest.Name

	if rec.State == StateEnabled {
		// Commands come out of the chat dispatch table before destroy
		// runs, so no new invocations reach a plugin tearing itself down.
		c.resources.RevokeKind(name, registry.KindCommand)

		host, err := c.host(rec)
		if err != nil {
			return err
		}

		start := time.Now()
		err = host.Destroy(ctx, name)
		RecordHookDuration(HookDestroy, time.Since(start))
		if err != nil {
			slog.Warn("plugin destroy failed",
				"plugin", name,
				"error", ErrDestroyFailed(name, err))
		}
		EnabledPlugins.Dec()
	}

	c.setState(rec, StateDisabled)
	RecordTransition("disable", StatusSuccess)

	if err := c.states.SetEnabled(name, false); err != nil {
		slog.Warn("failed to persist plugin state",
			"plugin", name,
			"error", err)
	}

	c.resources.RevokeAll(name)

	slog.Info("disabled plugin", "plugin", name)
	return nil
}

// Delete removes a plugin from the catalog, from the persisted state,
// and from disk. An enabled plugin is disabled first.
func (c *Controller) Delete(ctx context.Context, name string) error {
	unlock := c.ops.lock(name)
	defer unlock()

	rec, err := c.record(name)
	if err != nil {
		return err
	}

	if rec.State != StateDisabled {
		if err := c.disable(ctx, rec); err != nil {
			return err
		}
	}

	if rec.State == StateDisabled || rec.State == StateLoaded {
		host, err := c.host(rec)
		if err == nil {
			if err := host.Unload(ctx, name); err != nil {
				slog.Warn("failed to unload plugin module",
					"plugin", name,
					"error", err)
			}
		}
	}

	c.grants.RemoveGrants(name)

	if err := c.states.Remove(name); err != nil {
		slog.Warn("failed to remove persisted plugin state",
			"plugin", name,
			"error", err)
	}

	if err := os.RemoveAll(rec.Dir); err != nil {
		return oops.With("plugin", name).
			With("dir", rec.Dir).
			Wrapf(err, "failed to remove plugin directory")
	}

	c.mu.Lock()
	delete(c.records, name)
	c.mu.Unlock()

	RecordTransition("delete", StatusSuccess)
	slog.Info("deleted plugin", "plugin", name)
	return nil
}

// Reload hot-reloads a plugin: disable, re-read the entry source from
// disk, enable. The explicit re-load is what makes changed code take
// effect; enabling a cached module would re-run stale code.
func (c *Controller) Reload(ctx context.Context, name string) error {
	unlock := c.ops.lock(name)
	defer unlock()

	rec, err := c.record(name)
	if err != nil {
		return err
	}

	if err := c.disable(ctx, rec); err != nil {
		return err
	}

	host, err := c.host(rec)
	if err != nil {
		return err
	}
	if err := host.Load(ctx, rec.Manifest, rec.Dir); err != nil {
		c.setState(rec, StateFailed)
		RecordTransition("reload", StatusError)
		return ErrLoadFailed(name, err)
	}
	c.setState(rec, StateLoaded)

	if err := c.enable(ctx, rec); err != nil {
		RecordTransition("reload", StatusError)
		return err
	}

	RecordTransition("reload", StatusSuccess)
	return nil
}

// Plugins returns a read-only snapshot of the catalog, sorted by name.
func (c *Controller) Plugins() []Info {
	c.mu.RLock()
	defer c.mu.RUnlock()

	infos := make([]Info, 0, len(c.records))
	for _, rec := range c.records {
		infos = append(infos, rec.info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Close shuts down every runtime host.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	c.records = make(map[string]*Record)
	c.mu.Unlock()

	var firstErr error
	for runtime, host := range c.hosts {
		if err := host.Close(ctx); err != nil && firstErr == nil {
			firstErr = oops.With("runtime", string(runtime)).Wrap(err)
		}
	}
	return firstErr
}

func (c *Controller) record(name string) (*Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, ok := c.records[name]
	if !ok {
		return nil, ErrPluginNotFound(name)
	}
	return rec, nil
}

func (c *Controller) host(rec *Record) (Host, error) {
	host, ok := c.hosts[rec.Manifest.EffectiveRuntime()]
	if !ok {
		return nil, ErrLoadFailed(rec.Manifest.Name,
			oops.With("runtime", string(rec.Manifest.EffectiveRuntime())).
				Errorf("no host for runtime %s", rec.Manifest.EffectiveRuntime()))
	}
	return host, nil
}

func (c *Controller) setState(rec *Record, s State) {
	c.mu.Lock()
	rec.State = s
	c.mu.Unlock()
}

// keyedLocks serializes lifecycle transitions per plugin name.
// Operations on different plugins proceed in parallel.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedLocks) lock(name string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	l, ok := k.locks[name]
	if !ok {
		l = &sync.Mutex{}
		k.locks[name] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}
