// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/emberhost/ember/internal/plugin"
)

// NewPluginsCmd creates the plugins subcommand group.
func NewPluginsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Inspect and validate plugins",
	}

	cmd.AddCommand(NewPluginsValidateCmd())
	return cmd
}

// NewPluginsValidateCmd creates the plugins validate subcommand.
func NewPluginsValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <dir>",
		Short: "Validate a plugin directory without loading it",
		Long: `Validates the plugin.json manifest in the given directory against
the manifest schema and semantic rules, and checks that the declared
entry file exists. Does NOT execute any plugin code.
Exits with code 0 on success, non-zero on failure.

Useful in CI pipelines to catch manifest errors early:
  ember plugins validate ./plugins/my-plugin`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPluginsValidate(cmd, args[0])
		},
	}
}

func runPluginsValidate(cmd *cobra.Command, dir string) error {
	data, err := os.ReadFile(filepath.Join(dir, plugin.ManifestFilename)) // #nosec G304 -- path given by the operator
	if err != nil {
		return fmt.Errorf("failed to read manifest: %w", err)
	}

	if err := plugin.ValidateSchema(data); err != nil {
		return fmt.Errorf("manifest schema validation failed:\n%s", plugin.FormatSchemaError(err))
	}

	manifest, err := plugin.ParseManifest(data)
	if err != nil {
		return fmt.Errorf("manifest validation failed: %w", err)
	}

	entryPath := filepath.Join(dir, manifest.Entry)
	if _, err := os.Stat(entryPath); err != nil {
		return fmt.Errorf("entry file %q not found: %w", manifest.Entry, err)
	}
	for _, f := range manifest.Files {
		if _, err := os.Stat(filepath.Join(dir, f)); err != nil {
			return fmt.Errorf("declared file %q not found: %w", f, err)
		}
	}

	cmd.Printf("%s %s (%s runtime): ok\n", manifest.Name, manifest.Version, manifest.EffectiveRuntime())
	return nil
}
