// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package plugin

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

// Source fetches plugin archives from a repository. Transport details
// live behind this interface; the controller only consumes it.
type Source interface {
	// FetchManifest returns the raw plugin.json for a named plugin.
	FetchManifest(ctx context.Context, name string) ([]byte, error)

	// FetchFile returns the content of one file inside the plugin's
	// distribution, addressed by its manifest-relative path.
	FetchFile(ctx context.Context, name, relPath string) ([]byte, error)
}

// Install fetches a plugin from the configured repository, writes it
// under the plugins directory, and loads it. The fetched manifest is
// validated before any file is written; a failed install leaves no
// partial directory behind.
func (c *Controller) Install(ctx context.Context, name string) error {
	if c.source == nil {
		return ErrInstallFailed(name, oops.New("no plugin repository configured"))
	}

	unlock := c.ops.lock(name)

	c.mu.RLock()
	_, exists := c.records[name]
	c.mu.RUnlock()
	if exists {
		unlock()
		return ErrInstallFailed(name, oops.New("plugin is already installed"))
	}

	data, err := c.source.FetchManifest(ctx, name)
	if err != nil {
		unlock()
		return ErrInstallFailed(name, err)
	}
	if err := ValidateSchema(data); err != nil {
		unlock()
		return ErrInstallFailed(name, err)
	}
	manifest, err := ParseManifest(data)
	if err != nil {
		unlock()
		return ErrInstallFailed(name, err)
	}
	if manifest.Name != name {
		unlock()
		return ErrInstallFailed(name, oops.With("manifest_name", manifest.Name).New("manifest name does not match requested plugin"))
	}

	dir := filepath.Join(c.dir, name)
	if err := c.writePluginFiles(ctx, manifest, data, dir); err != nil {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			slog.Warn("failed to clean up partial install",
				"plugin", name,
				"dir", dir,
				"error", rmErr)
		}
		unlock()
		return ErrInstallFailed(name, err)
	}

	c.mu.Lock()
	c.records[name] = &Record{
		Manifest: manifest,
		Dir:      dir,
		State:    StateDiscovered,
	}
	c.mu.Unlock()

	slog.Info("installed plugin", "plugin", name, "version", manifest.Version)

	// Load takes the op lock itself.
	unlock()
	return c.Load(ctx, name)
}

// writePluginFiles writes the manifest, the entry, and every declared
// file under dir. Paths were validated as local during manifest parsing.
func (c *Controller) writePluginFiles(ctx context.Context, manifest *Manifest, manifestData []byte, dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFilename), manifestData, 0o600); err != nil {
		return err
	}

	paths := make([]string, 0, len(manifest.Files)+1)
	paths = append(paths, manifest.Entry)
	for _, f := range manifest.Files {
		if f == manifest.Entry || f == ManifestFilename {
			continue
		}
		paths = append(paths, f)
	}

	for _, rel := range paths {
		content, err := c.source.FetchFile(ctx, manifest.Name, rel)
		if err != nil {
			return err
		}
		target := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
			return err
		}
		if err := os.WriteFile(target, content, 0o600); err != nil {
			return err
		}
	}

	return nil
}
