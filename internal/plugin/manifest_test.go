// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package plugin_test

import (
	"strings"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberhost/ember/internal/plugin"
)

func TestParseManifest_LuaPlugin(t *testing.T) {
	data := `{
		"name": "echo-bot",
		"version": "1.0.0",
		"description": "echoes things",
		"entry": "main.lua",
		"runtime": "lua",
		"compatibility": {"core": ">=1.0.0"},
		"permissions": {"chat": ["command", "event"], "web": ["page"]}
	}`
	m, err := plugin.ParseManifest([]byte(data))
	require.NoError(t, err)

	assert.Equal(t, "echo-bot", m.Name)
	assert.Equal(t, "1.0.0", m.Version)
	assert.Equal(t, plugin.RuntimeLua, m.Runtime)
	assert.Equal(t, "main.lua", m.Entry)
	require.NotNil(t, m.Compatibility)
	assert.Equal(t, ">=1.0.0", m.Compatibility.Core)
	require.NotNil(t, m.Permissions)
	assert.Len(t, m.Permissions.Chat, 2)
	assert.Len(t, m.Permissions.Web, 1)
}

func TestParseManifest_BinaryPlugin(t *testing.T) {
	data := `{
		"name": "combat-system",
		"version": "2.1.0",
		"entry": "combat",
		"runtime": "binary"
	}`
	m, err := plugin.ParseManifest([]byte(data))
	require.NoError(t, err)

	assert.Equal(t, plugin.RuntimeBinary, m.Runtime)
	assert.Equal(t, "combat", m.Entry)
}

func TestParseManifest_Errors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{
			name:    "empty data",
			data:    "",
			wantErr: "empty",
		},
		{
			name:    "invalid JSON",
			data:    "{not json",
			wantErr: "invalid JSON",
		},
		{
			name:    "missing name",
			data:    `{"entry": "main.lua"}`,
			wantErr: "name",
		},
		{
			name:    "uppercase name",
			data:    `{"name": "Echo", "entry": "main.lua"}`,
			wantErr: "name",
		},
		{
			name:    "name ends with hyphen",
			data:    `{"name": "echo-", "entry": "main.lua"}`,
			wantErr: "name",
		},
		{
			name:    "missing entry",
			data:    `{"name": "echo"}`,
			wantErr: "entry is required",
		},
		{
			name:    "entry escapes plugin directory",
			data:    `{"name": "echo", "entry": "../../../etc/passwd"}`,
			wantErr: "must resolve inside",
		},
		{
			name:    "absolute entry",
			data:    `{"name": "echo", "entry": "/etc/passwd"}`,
			wantErr: "must resolve inside",
		},
		{
			name:    "file escapes plugin directory",
			data:    `{"name": "echo", "entry": "main.lua", "files": ["../sibling.lua"]}`,
			wantErr: "must resolve inside",
		},
		{
			name:    "unknown runtime",
			data:    `{"name": "echo", "entry": "main.lua", "runtime": "wasm"}`,
			wantErr: "runtime",
		},
		{
			name:    "invalid compatibility range",
			data:    `{"name": "echo", "entry": "main.lua", "compatibility": {"core": "not-a-range"}}`,
			wantErr: "compatibility.core",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := plugin.ParseManifest([]byte(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseManifest_NameTooLong(t *testing.T) {
	longName := "a" + strings.Repeat("b", 64)
	data := `{"name": "` + longName + `", "entry": "main.lua"}`

	_, err := plugin.ParseManifest([]byte(data))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "64 characters")
}

func TestManifest_EffectiveRuntime(t *testing.T) {
	m := &plugin.Manifest{Name: "x", Entry: "main.lua"}
	assert.Equal(t, plugin.RuntimeLua, m.EffectiveRuntime(), "runtime defaults to lua")

	m.Runtime = plugin.RuntimeBinary
	assert.Equal(t, plugin.RuntimeBinary, m.EffectiveRuntime())
}

func TestManifest_Compatible(t *testing.T) {
	host := semver.MustParse("1.5.0")

	tests := []struct {
		name  string
		core  string
		want  bool
	}{
		{"no range is always compatible", "", true},
		{"inside range", ">=1.0.0 <2.0.0", true},
		{"below range", ">=2.0.0", false},
		{"exact", "1.5.0", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &plugin.Manifest{Name: "x", Entry: "main.lua"}
			if tt.core != "" {
				m.Compatibility = &plugin.Compatibility{Core: tt.core}
			}
			got, err := m.Compatible(host)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestManifest_Capabilities(t *testing.T) {
	m := &plugin.Manifest{
		Name:  "x",
		Entry: "main.lua",
		Permissions: &plugin.Permissions{
			Chat: []string{"command", "event"},
			Web:  []string{"*"},
		},
	}

	caps := m.Capabilities()
	assert.Equal(t, []string{"chat.command", "chat.event", "web.*"}, caps)
}

func TestManifest_Capabilities_NoPermissions(t *testing.T) {
	m := &plugin.Manifest{Name: "x", Entry: "main.lua"}
	assert.Nil(t, m.Capabilities())
}
