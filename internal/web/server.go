// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package web

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/samber/oops"
)

// pageShell wraps registered page content in a minimal HTML document.
const pageShell = `<!DOCTYPE html>
<html>
<head><title>ember</title></head>
<body>
%s
</body>
</html>
`

// Server serves plugin routes and pages over HTTP.
// Tables are consulted per request, so registrations and revocations
// take effect without a restart.
type Server struct {
	addr       string
	listener   net.Listener
	httpServer *http.Server
	routes     *RouteTable
	pages      *PageTable
	running    atomic.Bool
}

// NewServer creates a web server over the given tables.
// addr: listen address in "host:port" format.
func NewServer(addr string, routes *RouteTable, pages *PageTable) *Server {
	return &Server{
		addr:   addr,
		routes: routes,
		pages:  pages,
	}
}

// ServeHTTP resolves the request path against routes first, then pages.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h, ok := s.routes.Get(r.URL.Path); ok {
		h.ServeHTTP(w, r)
		return
	}

	if content, ok := s.pages.Get(r.URL.Path); ok {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		//nolint:errcheck // response write error means the client went away
		fmt.Fprintf(w, pageShell, content)
		return
	}

	http.Error(w, html.EscapeString("not found: "+r.URL.Path), http.StatusNotFound)
}

// Start begins serving. It returns an error channel that receives any
// error from the HTTP server after startup; the channel is closed when
// the server stops gracefully.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("web server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			slog.Error("web server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	slog.Info("web server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.With("operation", "shutdown_web_server").Wrap(err)
		}
	}

	slog.Info("web server stopped")
	return nil
}

// Addr returns the address the server is listening on.
// Returns empty string if not running.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
