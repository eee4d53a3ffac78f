// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package plugin

// State is a plugin's lifecycle state tag.
// Only the Controller writes state tags.
type State uint8

// Lifecycle states.
const (
	StateDiscovered State = iota
	StateLoaded
	StateEnabled
	StateDisabled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateLoaded:
		return "loaded"
	case StateEnabled:
		return "enabled"
	case StateDisabled:
		return "disabled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Record is the authoritative in-memory entry for a discovered plugin.
// It is owned exclusively by the Controller.
type Record struct {
	Manifest *Manifest
	Dir      string
	State    State
}

// Info is a read-only snapshot of a Record for presentation layers.
type Info struct {
	Name        string
	Version     string
	Description string
	Runtime     Runtime
	State       State
}

func (r *Record) info() Info {
	return Info{
		Name:        r.Manifest.Name,
		Version:     r.Manifest.Version,
		Description: r.Manifest.Description,
		Runtime:     r.Manifest.EffectiveRuntime(),
		State:       r.State,
	}
}
