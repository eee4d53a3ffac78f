// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

// Package events routes inbound platform events to registered handlers.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Event represents something that happened on the chat platform.
type Event struct {
	ID        ulid.ULID
	Name      string // e.g. "message", "member_join"
	Timestamp time.Time
	Actor     string // platform user identifier, plugin name, or "system"
	Payload   []byte // JSON
}

// NewEvent creates an event with a fresh ID and the current time.
func NewEvent(name, actor string, payload []byte) Event {
	return Event{
		ID:        ulid.Make(),
		Name:      name,
		Timestamp: time.Now(),
		Actor:     actor,
		Payload:   payload,
	}
}

// Handler processes one delivered event.
type Handler func(ctx context.Context, ev Event) error

// Bus is the live event dispatch table: one handler per event name.
// Key uniqueness across owners is enforced by the resource registry.
type Bus struct {
	handlers map[string]Handler
	mu       sync.RWMutex
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[string]Handler),
	}
}

// Bind installs a handler for an event name. The handler must be an
// events.Handler. Bind implements the resource registry's Binder interface.
func (b *Bus) Bind(key string, handler any) error {
	h, ok := handler.(Handler)
	if !ok {
		return oops.With("event", key).Errorf("handler must be an events.Handler, got %T", handler)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.handlers[key]; ok {
		return oops.With("event", key).Errorf("event %q already bound", key)
	}
	b.handlers[key] = h
	return nil
}

// Unbind removes the handler for an event name. Unknown keys are a no-op.
func (b *Bus) Unbind(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, key)
}

// Has reports whether a handler is bound for the event name.
func (b *Bus) Has(name string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.handlers[name]
	return ok
}

// Dispatch delivers an event to its bound handler, if any.
// Handler failures are logged, not propagated; a buggy plugin handler
// must not disturb the platform connection that fed the event in.
func (b *Bus) Dispatch(ctx context.Context, ev Event) {
	b.mu.RLock()
	h, ok := b.handlers[ev.Name]
	b.mu.RUnlock()

	if !ok {
		slog.Debug("no handler for event", "event", ev.Name)
		return
	}

	if err := h(ctx, ev); err != nil {
		slog.Warn("event handler failed",
			"event", ev.Name,
			"event_id", ev.ID.String(),
			"error", err,
		)
	}
}
