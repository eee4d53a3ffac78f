// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package plugin

import (
	"context"
	"time"
)

// Hook names every entry module may export.
const (
	HookInit    = "init"
	HookDestroy = "destroy"
)

// DefaultHookTimeout bounds a single lifecycle hook invocation.
// The timeout guards only the outer call: background work a plugin
// arranged for itself is not forcibly terminated when it fires.
const DefaultHookTimeout = 5000 * time.Millisecond

// Host manages a specific plugin runtime type. The Controller drives
// hosts; it never touches runtime internals directly.
type Host interface {
	// Load acquires the entry module for a plugin: a fresh read of the
	// source from disk (or a fresh process start). Loading an already
	// loaded plugin replaces the module, which is what makes reload
	// pick up changed code.
	Load(ctx context.Context, manifest *Manifest, dir string) error

	// Init runs the plugin's init hook with a freshly built capability
	// facade. Returns HOOK_MISSING if the module does not export init,
	// HOOK_TIMEOUT if the hook exceeds its time budget.
	Init(ctx context.Context, name string) error

	// Destroy runs the plugin's destroy hook. Same failure modes as Init.
	Destroy(ctx context.Context, name string) error

	// Unload tears down a plugin's runtime and releases its module.
	Unload(ctx context.Context, name string) error

	// Close shuts down the host and all loaded plugins.
	Close(ctx context.Context) error
}
