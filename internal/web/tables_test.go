// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package web_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberhost/ember/internal/web"
)

func TestRouteTable(t *testing.T) {
	table := web.NewRouteTable()

	handler := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	require.NoError(t, table.Bind("/status", handler))

	got, ok := table.Get("/status")
	require.True(t, ok)
	assert.NotNil(t, got)

	table.Unbind("/status")
	_, ok = table.Get("/status")
	assert.False(t, ok)
}

func TestRouteTable_RejectsWrongType(t *testing.T) {
	table := web.NewRouteTable()

	err := table.Bind("/status", "not a handler")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http.Handler")
}

func TestRouteTable_RejectsDuplicates(t *testing.T) {
	table := web.NewRouteTable()
	handler := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	require.NoError(t, table.Bind("/status", handler))

	err := table.Bind("/status", handler)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already bound")
}

func TestPageTable(t *testing.T) {
	table := web.NewPageTable()

	require.NoError(t, table.Bind("/docs", "<h1>Docs</h1>"))

	content, ok := table.Get("/docs")
	require.True(t, ok)
	assert.Equal(t, "<h1>Docs</h1>", content)

	table.Unbind("/docs")
	_, ok = table.Get("/docs")
	assert.False(t, ok)
}

func TestPageTable_RejectsWrongType(t *testing.T) {
	table := web.NewPageTable()

	err := table.Bind("/docs", 42)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "string")
}

func TestPageTable_RejectsDuplicates(t *testing.T) {
	table := web.NewPageTable()
	require.NoError(t, table.Bind("/docs", "a"))

	err := table.Bind("/docs", "b")
	require.Error(t, err)

	content, _ := table.Get("/docs")
	assert.Equal(t, "a", content, "the first registration stays")
}
