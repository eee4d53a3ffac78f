// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package repohttp_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberhost/ember/internal/plugin/repohttp"
)

func TestNew_Validation(t *testing.T) {
	_, err := repohttp.New("://bad")
	assert.Error(t, err)

	_, err = repohttp.New("ftp://repo.example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http or https")

	_, err = repohttp.New("https://repo.example.com/plugins")
	assert.NoError(t, err)
}

func TestFetchManifest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/plugins/dice/plugin.json", r.URL.Path)
		w.Write([]byte(`{"name": "dice", "entry": "main.lua"}`)) //nolint:errcheck // test server
	}))
	defer srv.Close()

	src, err := repohttp.New(srv.URL + "/plugins")
	require.NoError(t, err)

	data, err := src.FetchManifest(context.Background(), "dice")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name": "dice", "entry": "main.lua"}`, string(data))
}

func TestFetchFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/dice/lib/roll.lua", r.URL.Path)
		w.Write([]byte("-- roller")) //nolint:errcheck // test server
	}))
	defer srv.Close()

	src, err := repohttp.New(srv.URL)
	require.NoError(t, err)

	data, err := src.FetchFile(context.Background(), "dice", "lib/roll.lua")
	require.NoError(t, err)
	assert.Equal(t, "-- roller", string(data))
}

func TestFetch_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok")) //nolint:errcheck // test server
	}))
	defer srv.Close()

	src, err := repohttp.New(srv.URL)
	require.NoError(t, err)

	data, err := src.FetchFile(context.Background(), "dice", "main.lua")
	require.NoError(t, err, "transient 5xx responses are retried")
	assert.Equal(t, "ok", string(data))
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetch_NotFoundDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	src, err := repohttp.New(srv.URL)
	require.NoError(t, err)

	_, err = src.FetchManifest(context.Background(), "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.Equal(t, int32(1), calls.Load(), "4xx is terminal, not retried")
}

func TestFetch_RetryBudgetExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	src, err := repohttp.New(srv.URL, repohttp.WithMaxRetries(2))
	require.NoError(t, err)

	_, err = src.FetchManifest(context.Background(), "dice")
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load(), "initial attempt plus two retries")
}

func TestFetch_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	src, err := repohttp.New(srv.URL)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = src.FetchManifest(ctx, "dice")
	assert.Error(t, err)
}
