// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

// Package web provides the host's web surface: plugin-registered routes
// and pages served by a single HTTP server.
package web

import (
	"net/http"
	"sync"

	"github.com/samber/oops"
)

// RouteTable is the live dispatch table for plugin HTTP routes.
// Key uniqueness across owners is enforced by the resource registry.
type RouteTable struct {
	routes map[string]http.Handler
	mu     sync.RWMutex
}

// NewRouteTable creates an empty route table.
func NewRouteTable() *RouteTable {
	return &RouteTable{
		routes: make(map[string]http.Handler),
	}
}

// Bind installs a handler for a path. The handler must implement
// http.Handler. Bind implements the resource registry's Binder interface.
func (t *RouteTable) Bind(key string, handler any) error {
	h, ok := handler.(http.Handler)
	if !ok {
		return oops.With("route", key).Errorf("handler must be an http.Handler, got %T", handler)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.routes[key]; ok {
		return oops.With("route", key).Errorf("route %q already bound", key)
	}
	t.routes[key] = h
	return nil
}

// Unbind removes a route. Unknown keys are a no-op.
func (t *RouteTable) Unbind(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.routes, key)
}

// Get retrieves the handler for a path.
func (t *RouteTable) Get(path string) (http.Handler, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.routes[path]
	return h, ok
}

// PageTable is the live dispatch table for plugin-registered pages.
// A page is a static HTML fragment rendered into the host shell.
type PageTable struct {
	pages map[string]string
	mu    sync.RWMutex
}

// NewPageTable creates an empty page table.
func NewPageTable() *PageTable {
	return &PageTable{
		pages: make(map[string]string),
	}
}

// Bind installs page content for a path. The handler must be a string.
// Bind implements the resource registry's Binder interface.
func (t *PageTable) Bind(key string, handler any) error {
	content, ok := handler.(string)
	if !ok {
		return oops.With("page", key).Errorf("handler must be a string, got %T", handler)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.pages[key]; ok {
		return oops.With("page", key).Errorf("page %q already bound", key)
	}
	t.pages[key] = content
	return nil
}

// Unbind removes a page. Unknown keys are a no-op.
func (t *PageTable) Unbind(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pages, key)
}

// Get retrieves the content for a path.
func (t *PageTable) Get(path string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	content, ok := t.pages[path]
	return content, ok
}
