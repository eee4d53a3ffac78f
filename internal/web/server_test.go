// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package web_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberhost/ember/internal/web"
)

func newTestServer() (*web.Server, *web.RouteTable, *web.PageTable) {
	routes := web.NewRouteTable()
	pages := web.NewPageTable()
	return web.NewServer("127.0.0.1:0", routes, pages), routes, pages
}

func TestServeHTTP_Route(t *testing.T) {
	srv, routes, _ := newTestServer()
	require.NoError(t, routes.Bind("/api/status", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "all good")
	})))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/api/status", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "all good", rec.Body.String())
}

func TestServeHTTP_PageWrappedInShell(t *testing.T) {
	srv, _, pages := newTestServer()
	require.NoError(t, pages.Bind("/docs", "<h1>Docs</h1>"))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/docs", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<!DOCTYPE html>")
	assert.Contains(t, rec.Body.String(), "<h1>Docs</h1>")
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
}

func TestServeHTTP_RouteShadowsPage(t *testing.T) {
	srv, routes, pages := newTestServer()
	require.NoError(t, pages.Bind("/both", "page content"))
	require.NoError(t, routes.Bind("/both", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "route content")
	})))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/both", nil))
	assert.Equal(t, "route content", rec.Body.String(), "routes resolve before pages")
}

func TestServeHTTP_NotFound(t *testing.T) {
	srv, _, _ := newTestServer()

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeHTTP_RevocationTakesEffectImmediately(t *testing.T) {
	srv, routes, _ := newTestServer()
	require.NoError(t, routes.Bind("/plugin/ui", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "alive")
	})))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/plugin/ui", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	routes.Unbind("/plugin/ui")

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/plugin/ui", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code,
		"tables are consulted per request, no restart needed")
}

func TestStartAndStop(t *testing.T) {
	srv, routes, _ := newTestServer()
	require.NoError(t, routes.Bind("/ping", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "pong")
	})))

	errCh, err := srv.Start()
	require.NoError(t, err)
	require.NotEmpty(t, srv.Addr())

	resp, err := http.Get("http://" + srv.Addr() + "/ping")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "pong", string(body))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))

	// Graceful stop closes the error channel without an error.
	select {
	case err, open := <-errCh:
		if open {
			t.Fatalf("unexpected server error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("error channel not closed after stop")
	}
}

func TestStart_RejectsDoubleStart(t *testing.T) {
	srv, _, _ := newTestServer()

	_, err := srv.Start()
	require.NoError(t, err)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	}()

	_, err = srv.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestStop_WithoutStartIsNoOp(t *testing.T) {
	srv, _, _ := newTestServer()
	assert.NoError(t, srv.Stop(context.Background()))
}
