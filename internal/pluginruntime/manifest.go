/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package pluginruntime

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ManifestSchemaV1 is the only manifest schema version a plugin directory may declare.
const ManifestSchemaV1 = 1

// Manifest is a plugin directory's manifest.yaml, schema 1.
type Manifest struct {
	Schema      int    `yaml:"schema"`
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	TypeID      string `yaml:"type_id"`
	Executable  string `yaml:"executable"`
	DefaultJSON string `yaml:"default_config"`
}

// Validate rejects a manifest this runtime cannot host.
func (m Manifest) Validate() error {
	if m.Schema != ManifestSchemaV1 {
		return fmt.Errorf("unsupported plugin manifest schema %d (only %d is supported)", m.Schema, ManifestSchemaV1)
	}
	if m.ID == "" {
		return fmt.Errorf("plugin manifest missing id")
	}
	if m.TypeID == "" {
		return fmt.Errorf("plugin manifest %s missing type_id", m.ID)
	}
	return nil
}

// InstallReceipt is the .install.json a plugin directory carries once installed, and
// the pending-uninstall marker the runtime observes but never writes itself.
type InstallReceipt struct {
	InstalledAt      string `json:"installed_at"`
	InstalledVersion string `json:"installed_version"`
	PendingUninstall bool   `json:"pending_uninstall"`
}

// DiscoveredPlugin pairs a parsed manifest with its directory and install receipt.
type DiscoveredPlugin struct {
	Dir      string
	Manifest Manifest
	Receipt  InstallReceipt
	// ConfigHash is a stable content hash of the manifest file itself, used by the
	// reconciler to tell "unchanged" from "reload_changed" without re-parsing.
	ConfigHash string
}

// DiscoverPlugins walks root for subdirectories containing a manifest.yaml, parsing and
// validating each. A directory whose manifest fails to parse or validate is skipped,
// not fatal to the rest of the scan.
func DiscoverPlugins(root string) ([]DiscoveredPlugin, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read plugin directory %s: %w", root, err)
	}

	var found []DiscoveredPlugin
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		manifestPath := filepath.Join(dir, "manifest.yaml")
		raw, err := os.ReadFile(manifestPath)
		if err != nil {
			continue
		}
		var manifest Manifest
		if err := yaml.Unmarshal(raw, &manifest); err != nil {
			continue
		}
		if err := manifest.Validate(); err != nil {
			continue
		}

		var receipt InstallReceipt
		if receiptRaw, err := os.ReadFile(filepath.Join(dir, ".install.json")); err == nil {
			_ = json.Unmarshal(receiptRaw, &receipt)
		}

		found = append(found, DiscoveredPlugin{
			Dir:        dir,
			Manifest:   manifest,
			Receipt:    receipt,
			ConfigHash: contentHash(raw),
		})
	}
	return found, nil
}
