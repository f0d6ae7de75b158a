package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/skyroute/mapcache/pkg/config"
	"github.com/stretchr/testify/require"
)

// writeTestConfig writes a config file pointing at the given catalog URL and
// an isolated data directory, and returns both the config path and the
// loaded configuration.
func writeTestConfig(t *testing.T, catalogURL string) (string, *config.Config) {
	t.Helper()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	cfg := config.DefaultConfig()
	cfg.Settings.CatalogURL = catalogURL
	cfg.Settings.DataDir = filepath.Join(dir, "data")
	require.NoError(t, cfg.SaveConfig(cfgPath))

	return cfgPath, cfg
}

// runCommand executes the CLI with the given arguments.
func runCommand(t *testing.T, args ...string) error {
	t.Helper()

	cmd := newRootCmd()
	cmd.SetArgs(args)
	return cmd.ExecuteContext(context.Background())
}
