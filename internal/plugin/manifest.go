// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

// Package plugin provides plugin management and lifecycle control.
package plugin

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/Masterminds/semver/v3"
)

// ManifestFilename is the manifest file expected in every plugin directory.
const ManifestFilename = "plugin.json"

// Runtime identifies the plugin execution runtime.
type Runtime string

// Runtimes supported by the host.
const (
	RuntimeLua    Runtime = "lua"
	RuntimeBinary Runtime = "binary"
)

// Manifest represents a plugin.json file.
type Manifest struct {
	Name          string         `json:"name"`
	Version       string         `json:"version,omitempty"`
	Author        string         `json:"author,omitempty"`
	Description   string         `json:"description,omitempty"`
	Entry         string         `json:"entry"`
	Runtime       Runtime        `json:"runtime,omitempty"`
	Compatibility *Compatibility `json:"compatibility,omitempty"`
	Permissions   *Permissions   `json:"permissions,omitempty"`
	Dependencies  []string       `json:"dependencies,omitempty"`
	Files         []string       `json:"files,omitempty"`
}

// Compatibility declares the host version range a plugin supports.
type Compatibility struct {
	// Core is a semver range string, e.g. ">=1.0.0 <2.0.0".
	Core string `json:"core,omitempty"`
}

// Permissions declares the capability patterns a plugin requests,
// split by host surface.
type Permissions struct {
	Chat []string `json:"chat,omitempty"`
	Web  []string `json:"web,omitempty"`
}

// maxNameLength is the maximum allowed length for plugin names.
const maxNameLength = 64

// namePattern validates plugin names: must start with lowercase letter,
// followed by lowercase letters, digits, or hyphens.
// Cannot end with a hyphen. Single character names are allowed.
var namePattern = regexp.MustCompile(`^[a-z]([a-z0-9-]*[a-z0-9])?$`)

// ParseManifest parses and validates a plugin.json file.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("manifest data is empty")
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// Validate checks manifest constraints.
func (m *Manifest) Validate() error {
	if m.Name == "" || !namePattern.MatchString(m.Name) {
		return fmt.Errorf("name %q must start with a-z, contain only a-z, 0-9, hyphens, and not end with a hyphen", m.Name)
	}
	if len(m.Name) > maxNameLength {
		return fmt.Errorf("name must be %d characters or less, got %d", maxNameLength, len(m.Name))
	}

	if m.Entry == "" {
		return fmt.Errorf("entry is required")
	}
	if !filepath.IsLocal(m.Entry) {
		return fmt.Errorf("entry %q must resolve inside the plugin directory", m.Entry)
	}
	for _, f := range m.Files {
		if !filepath.IsLocal(f) {
			return fmt.Errorf("file %q must resolve inside the plugin directory", f)
		}
	}

	switch m.Runtime {
	case RuntimeLua, RuntimeBinary:
	case "":
		// Runtime defaults to lua; see EffectiveRuntime.
	default:
		return fmt.Errorf("runtime must be 'lua' or 'binary', got %q", m.Runtime)
	}

	if m.Compatibility != nil && m.Compatibility.Core != "" {
		if _, err := semver.NewConstraint(m.Compatibility.Core); err != nil {
			return fmt.Errorf("compatibility.core %q: %w", m.Compatibility.Core, err)
		}
	}

	return nil
}

// EffectiveRuntime returns the declared runtime, defaulting to lua.
func (m *Manifest) EffectiveRuntime() Runtime {
	if m.Runtime == "" {
		return RuntimeLua
	}
	return m.Runtime
}

// Compatible reports whether the manifest's declared compatibility range
// admits the given host version. A manifest without a range is compatible
// with every host version.
func (m *Manifest) Compatible(hostVersion *semver.Version) (bool, error) {
	if m.Compatibility == nil || m.Compatibility.Core == "" {
		return true, nil
	}
	c, err := semver.NewConstraint(m.Compatibility.Core)
	if err != nil {
		return false, fmt.Errorf("compatibility.core %q: %w", m.Compatibility.Core, err)
	}
	return c.Check(hostVersion), nil
}

// Capabilities flattens the declared permission patterns into a single
// grant list for the capability enforcer, prefixed by surface.
func (m *Manifest) Capabilities() []string {
	if m.Permissions == nil {
		return nil
	}
	caps := make([]string, 0, len(m.Permissions.Chat)+len(m.Permissions.Web))
	for _, c := range m.Permissions.Chat {
		caps = append(caps, "chat."+c)
	}
	for _, c := range m.Permissions.Web {
		caps = append(caps, "web."+c)
	}
	return caps
}
