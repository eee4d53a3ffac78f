// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

// Package command provides the chat command table and dispatcher.
package command

import (
	"context"
	"sync"

	"github.com/samber/oops"
)

// Handler is the function signature for command handlers.
// It returns the reply text to send back to the chat platform.
type Handler func(ctx context.Context, inv *Invocation) (string, error)

// Entry represents a registered command.
type Entry struct {
	Name    string  // canonical name (e.g., "ping")
	Help    string  // short description (one line)
	Handler Handler // host or plugin dispatcher
	Source  string  // "core" or plugin name
}

// Invocation carries one inbound command from the chat platform.
type Invocation struct {
	Name      string
	Args      string
	Actor     string // platform user identifier
	RequestID string
}

// Table manages command registration and lookup.
// It is thread-safe for concurrent access.
//
// Duplicate keys are rejected rather than overwritten; ownership-level
// conflict policy (first writer wins across plugins) is enforced by the
// resource registry in front of this table.
type Table struct {
	commands map[string]Entry
	mu       sync.RWMutex
}

// NewTable creates an empty command table.
func NewTable() *Table {
	return &Table{
		commands: make(map[string]Entry),
	}
}

// Bind installs a command. The handler must be an Entry.
// Bind implements the resource registry's Binder interface.
func (t *Table) Bind(key string, handler any) error {
	entry, ok := handler.(Entry)
	if !ok {
		return oops.With("command", key).Errorf("handler must be a command.Entry, got %T", handler)
	}
	if entry.Name == "" {
		entry.Name = key
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.commands[key]; ok {
		return oops.With("command", key).Errorf("command %q already bound", key)
	}
	t.commands[key] = entry
	return nil
}

// Unbind removes a command. Unknown keys are a no-op.
func (t *Table) Unbind(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.commands, key)
}

// Get retrieves a command by name.
func (t *Table) Get(name string) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entry, ok := t.commands[name]
	return entry, ok
}

// All returns all registered commands.
// The returned slice is a copy and safe to modify.
func (t *Table) All() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entries := make([]Entry, 0, len(t.commands))
	for _, e := range t.commands {
		entries = append(entries, e)
	}
	return entries
}
