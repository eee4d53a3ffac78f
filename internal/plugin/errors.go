// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package plugin

import (
	"github.com/samber/oops"
)

// Error codes for programmatic handling of lifecycle failures.
const (
	CodeManifestInvalid  = "MANIFEST_INVALID"
	CodeLoadFailed       = "LOAD_FAILED"
	CodeInitFailed       = "INIT_FAILED"
	CodeDestroyFailed    = "DESTROY_FAILED"
	CodeHookTimeout      = "HOOK_TIMEOUT"
	CodeHookMissing      = "HOOK_MISSING"
	CodePluginNotFound   = "PLUGIN_NOT_FOUND"
	CodeResourceConflict = "RESOURCE_CONFLICT"
	CodeStateIO          = "STATE_IO"
	CodeInstallFailed    = "INSTALL_FAILED"
)

// ErrManifestInvalid wraps a manifest parse or validation failure.
func ErrManifestInvalid(dir string, cause error) error {
	return oops.Code(CodeManifestInvalid).
		In("plugin").
		With("dir", dir).
		Hint("fix plugin.json and rediscover").
		Wrap(cause)
}

// ErrLoadFailed wraps a runtime load failure.
func ErrLoadFailed(name string, cause error) error {
	return oops.Code(CodeLoadFailed).
		In("plugin").
		With("plugin", name).
		Wrap(cause)
}

// ErrInitFailed wraps an init hook failure.
func ErrInitFailed(name string, cause error) error {
	return oops.Code(CodeInitFailed).
		In("plugin").
		With("plugin", name).
		Wrap(cause)
}

// ErrDestroyFailed wraps a destroy hook failure. Callers downgrade this
// to a warning; a failing destroy never blocks a disable.
func ErrDestroyFailed(name string, cause error) error {
	return oops.Code(CodeDestroyFailed).
		In("plugin").
		With("plugin", name).
		Wrap(cause)
}

// ErrHookTimeout reports a hook or handler call that exceeded its budget.
func ErrHookTimeout(name, hook string, timeoutMs int64) error {
	return oops.Code(CodeHookTimeout).
		In("plugin").
		With("plugin", name).
		With("hook", hook).
		With("timeout_ms", timeoutMs).
		Errorf("plugin %s: %s exceeded %dms budget", name, hook, timeoutMs)
}

// ErrHookMissing reports a plugin entry that does not define a required hook.
func ErrHookMissing(name, hook string) error {
	return oops.Code(CodeHookMissing).
		In("plugin").
		With("plugin", name).
		With("hook", hook).
		Errorf("plugin %s does not define hook %q", name, hook)
}

// ErrPluginNotFound reports an operation on an unknown plugin name.
func ErrPluginNotFound(name string) error {
	return oops.Code(CodePluginNotFound).
		In("plugin").
		With("plugin", name).
		Errorf("plugin %q not found", name)
}

// ErrResourceConflict reports a registration against a key another
// plugin already holds.
func ErrResourceConflict(kind, key, owner string) error {
	return oops.Code(CodeResourceConflict).
		In("plugin").
		With("kind", kind).
		With("key", key).
		With("owner", owner).
		Errorf("%s %q already registered by plugin %s", kind, key, owner)
}

// ErrStateIO wraps a persisted-state read or write failure. Callers
// downgrade this to a warning wherever possible.
func ErrStateIO(operation string, cause error) error {
	return oops.Code(CodeStateIO).
		In("plugin").
		With("operation", operation).
		Wrap(cause)
}

// ErrInstallFailed wraps a repository install failure.
func ErrInstallFailed(name string, cause error) error {
	return oops.Code(CodeInstallFailed).
		In("plugin").
		With("plugin", name).
		Wrap(cause)
}

// HasCode reports whether err carries the given oops code.
func HasCode(err error, code string) bool {
	if err == nil {
		return false
	}
	oopsErr, ok := oops.AsOops(err)
	return ok && oopsErr.Code() == code
}
