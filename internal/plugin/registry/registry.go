// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

// Package registry tracks which plugin owns each registered resource and
// keeps the host's live dispatch tables in sync with that ownership.
package registry

import (
	"sync"

	"github.com/samber/oops"
)

// Kind tags the category a resource key belongs to.
// Keys are unique per kind, not globally.
type Kind uint8

// Resource kinds.
const (
	KindCommand Kind = iota
	KindEvent
	KindRoute
	KindPage
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindEvent:
		return "event"
	case KindRoute:
		return "route"
	case KindPage:
		return "page"
	default:
		return "unknown"
	}
}

// CodeResourceConflict is the oops code for duplicate resource keys.
const CodeResourceConflict = "RESOURCE_CONFLICT"

// Binder is a live dispatch table the registry installs handlers into.
// Implementations type-assert the handler to their own entry type.
type Binder interface {
	Bind(key string, handler any) error
	Unbind(key string)
}

// Tables holds the live dispatch tables, one per resource kind.
// A nil table rejects registrations of that kind.
type Tables struct {
	Commands Binder
	Events   Binder
	Routes   Binder
	Pages    Binder
}

func (t Tables) forKind(k Kind) Binder {
	switch k {
	case KindCommand:
		return t.Commands
	case KindEvent:
		return t.Events
	case KindRoute:
		return t.Routes
	case KindPage:
		return t.Pages
	default:
		return nil
	}
}

// record is a single ownership entry.
type record struct {
	owner   string
	handler any
}

// Registry is the authoritative map from registered resource to owning
// plugin. Every live dispatch-table entry has exactly one corresponding
// record here; revoking an owner removes both sides.
type Registry struct {
	tables  Tables
	entries map[Kind]map[string]record
	mu      sync.Mutex
}

// New creates a registry wired to the given dispatch tables.
func New(tables Tables) *Registry {
	entries := make(map[Kind]map[string]record, 4)
	for _, k := range []Kind{KindCommand, KindEvent, KindRoute, KindPage} {
		entries[k] = make(map[string]record)
	}
	return &Registry{
		tables:  tables,
		entries: entries,
	}
}

// Register records ownership of (kind, key) for owner and installs the
// handler into the live table. First writer wins: a key held by a
// different plugin fails with RESOURCE_CONFLICT and the existing
// registration stays intact. A plugin may re-register its own key, which
// replaces the handler. Keys bound into a table outside the registry,
// such as the host's own routes, also conflict and are never displaced.
func (r *Registry) Register(owner string, kind Kind, key string, handler any) error {
	if owner == "" {
		return oops.Errorf("owner cannot be empty")
	}
	if key == "" {
		return oops.With("kind", kind.String()).Errorf("resource key cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	table := r.tables.forKind(kind)
	if table == nil {
		return oops.With("kind", kind.String()).Errorf("no dispatch table for kind %s", kind)
	}

	if existing, ok := r.entries[kind][key]; ok {
		if existing.owner != owner {
			return oops.Code(CodeResourceConflict).
				With("kind", kind.String()).
				With("key", key).
				With("owner", existing.owner).
				With("requested_by", owner).
				Errorf("%s %q already registered by plugin %s", kind, key, existing.owner)
		}
		// Rebinding the same key replaces the previous handler.
		table.Unbind(key)
	}

	// A key the registry has never seen may still be live in the table.
	// The host binds its own entries directly at startup, and those must
	// stay out of reach of plugins, so the table's duplicate rejection is
	// surfaced as a conflict rather than cleared with an unbind.
	if err := table.Bind(key, handler); err != nil {
		return oops.Code(CodeResourceConflict).
			With("kind", kind.String()).
			With("key", key).
			With("requested_by", owner).
			Wrap(err)
	}

	r.entries[kind][key] = record{owner: owner, handler: handler}
	return nil
}

// Has reports whether (kind, key) is registered.
func (r *Registry) Has(kind Kind, key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.entries[kind][key]
	return ok
}

// Owner returns the plugin owning (kind, key).
func (r *Registry) Owner(kind Kind, key string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.entries[kind][key]
	return rec.owner, ok
}

// Count returns the number of resources owned by a plugin across all kinds.
func (r *Registry) Count(owner string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, keys := range r.entries {
		for _, rec := range keys {
			if rec.owner == owner {
				n++
			}
		}
	}
	return n
}

// RevokeKind removes every resource of one kind owned by a plugin from the
// registry and the corresponding live table. Returns the number revoked.
// Idempotent: revoking an owner with no resources is a no-op.
func (r *Registry) RevokeKind(owner string, kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.revokeKindLocked(owner, kind)
}

// RevokeAll removes every resource owned by a plugin across all kinds.
// Returns the number revoked. Idempotent.
func (r *Registry) RevokeAll(owner string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for kind := range r.entries {
		n += r.revokeKindLocked(owner, kind)
	}
	return n
}

func (r *Registry) revokeKindLocked(owner string, kind Kind) int {
	table := r.tables.forKind(kind)
	n := 0
	for key, rec := range r.entries[kind] {
		if rec.owner != owner {
			continue
		}
		if table != nil {
			table.Unbind(key)
		}
		delete(r.entries[kind], key)
		n++
	}
	return n
}
