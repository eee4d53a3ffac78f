// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

// Package main implements a greeter plugin for Ember as a binary plugin.
//
// Build the executable into the plugin directory:
//
//	go build -o greeter ./plugins/greeter
//
// The manifest's entry names the built binary; the host starts it as a
// child process and talks to it over go-plugin.
package main

import (
	"fmt"
	"strings"

	"github.com/emberhost/ember/pkg/pluginsdk"
)

// GreeterPlugin greets actors by command and welcomes them on join events.
type GreeterPlugin struct{}

// Init declares the plugin's resources.
func (p *GreeterPlugin) Init(_ []string) (pluginsdk.Registrations, error) {
	return pluginsdk.Registrations{
		Commands: []pluginsdk.CommandSpec{
			{Name: "greet", Help: "greet someone by name"},
		},
		Events: []string{"join"},
		Pages: []pluginsdk.PageSpec{
			{Path: "/greeter", Content: "<h1>Greeter</h1><p>Say hello with the greet command.</p>"},
		},
	}, nil
}

// HandleCommand serves the greet command.
func (p *GreeterPlugin) HandleCommand(inv pluginsdk.CommandInvocation) (string, error) {
	target := strings.TrimSpace(inv.Args)
	if target == "" {
		target = inv.Actor
	}
	if target == "" {
		target = "stranger"
	}
	return fmt.Sprintf("Hello, %s!", target), nil
}

// HandleEvent logs nothing; joins need no reply.
func (p *GreeterPlugin) HandleEvent(_ pluginsdk.Event) error {
	return nil
}

// HandleRoute is unused; the greeter serves only a static page.
func (p *GreeterPlugin) HandleRoute(_, _ string) (string, error) {
	return "", nil
}

// Destroy has nothing to clean up.
func (p *GreeterPlugin) Destroy() error {
	return nil
}

func main() {
	pluginsdk.Serve(&pluginsdk.ServeConfig{Plugin: &GreeterPlugin{}})
}
