// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

// Package repohttp fetches plugin distributions from an HTTP repository.
//
// The repository layout is one directory per plugin:
//
//	<base>/<plugin>/plugin.json
//	<base>/<plugin>/<file>
//
// Transient failures (5xx, network errors) are retried with fibonacci
// backoff; 4xx responses fail immediately.
package repohttp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	plugins "github.com/emberhost/ember/internal/plugin"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3
	defaultBackoff    = 500 * time.Millisecond

	// maxFileSize caps a single fetched file. Plugin sources are small;
	// anything bigger is a repository misconfiguration.
	maxFileSize = 8 << 20
)

// Compile-time interface check.
var _ plugins.Source = (*Source)(nil)

// Source is an HTTP-backed plugin repository client.
type Source struct {
	baseURL    *url.URL
	client     *http.Client
	maxRetries uint64
	backoff    time.Duration
}

// Option configures the Source.
type Option func(*Source)

// WithClient overrides the HTTP client.
func WithClient(c *http.Client) Option {
	return func(s *Source) {
		s.client = c
	}
}

// WithMaxRetries overrides the retry budget for transient failures.
func WithMaxRetries(n uint64) Option {
	return func(s *Source) {
		s.maxRetries = n
	}
}

// New creates an HTTP repository source rooted at baseURL.
func New(baseURL string, opts ...Option) (*Source, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, oops.In("repohttp").With("url", baseURL).Hint("invalid repository URL").Wrap(err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, oops.In("repohttp").With("url", baseURL).New("repository URL must be http or https")
	}

	s := &Source{
		baseURL:    u,
		client:     &http.Client{Timeout: defaultTimeout},
		maxRetries: defaultMaxRetries,
		backoff:    defaultBackoff,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// FetchManifest retrieves <base>/<name>/plugin.json.
func (s *Source) FetchManifest(ctx context.Context, name string) ([]byte, error) {
	return s.fetch(ctx, name, plugins.ManifestFilename)
}

// FetchFile retrieves one manifest-relative file of the plugin.
func (s *Source) FetchFile(ctx context.Context, name, relPath string) ([]byte, error) {
	return s.fetch(ctx, name, relPath)
}

func (s *Source) fetch(ctx context.Context, name, relPath string) ([]byte, error) {
	target := *s.baseURL
	target.Path = path.Join(target.Path, name, relPath)

	var body []byte
	backoff := retry.WithMaxRetries(s.maxRetries, retry.NewFibonacci(s.backoff))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		data, err := s.get(ctx, target.String())
		if err != nil {
			return err
		}
		body = data
		return nil
	})
	if err != nil {
		return nil, oops.In("repohttp").
			With("plugin", name).
			With("path", relPath).
			With("url", target.String()).
			Wrap(err)
	}
	return body, nil
}

// get performs a single request. Server-side and transport failures are
// marked retryable; client errors are terminal.
func (s *Source) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		slog.DebugContext(ctx, "repository request failed", "url", rawURL, "error", err)
		return nil, retry.RetryableError(err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	switch {
	case resp.StatusCode == http.StatusOK:
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxFileSize+1))
		if err != nil {
			return nil, retry.RetryableError(err)
		}
		if len(data) > maxFileSize {
			return nil, fmt.Errorf("response exceeds %d bytes", maxFileSize)
		}
		return data, nil
	case resp.StatusCode >= 500:
		slog.DebugContext(ctx, "repository returned server error",
			"url", rawURL,
			"status", resp.StatusCode)
		return nil, retry.RetryableError(fmt.Errorf("server returned %d", resp.StatusCode))
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("not found")
	default:
		return nil, fmt.Errorf("server returned %d", resp.StatusCode)
	}
}
