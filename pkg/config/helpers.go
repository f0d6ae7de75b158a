package config

import (
	"path/filepath"
)

// CatalogPath returns the local cache path of the catalog document itself.
func (c *Config) CatalogPath() string {
	return filepath.Join(c.Settings.DataDir, "maps.json")
}

// MapsDir returns the root of the cached map file tree. The directory tree
// below it mirrors the relative paths of the catalog.
func (c *Config) MapsDir() string {
	return filepath.Join(c.Settings.DataDir, "aviation_maps")
}

// SettingsPath returns the path of the durable settings store.
func (c *Config) SettingsPath() string {
	return filepath.Join(c.Settings.DataDir, "settings.yaml")
}
