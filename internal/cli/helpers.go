package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/skyroute/mapcache/pkg/config"
	"github.com/skyroute/mapcache/pkg/manager"
	"github.com/skyroute/mapcache/pkg/settings"
)

// These variables will be set by the main package
var (
	ConfigPath *string
	Verbose    *bool
	NoColor    *bool
)

// syncTimeout bounds how long commands wait for a catalog round trip.
const syncTimeout = 5 * time.Minute

// TabWidth is the width of tabs in formatted output.
const TabWidth = 2

func loadConfig() (*config.Config, error) {
	configPath := getConfigPath()
	if configPath == "" {
		defaultPath, err := config.GetDefaultConfigPath()
		if err != nil {
			return nil, fmt.Errorf("failed to get default config path: %w", err)
		}
		configPath = defaultPath
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func getConfigPath() string {
	if ConfigPath != nil {
		return *ConfigPath
	}
	return ""
}

// engine bundles a started manager with its settings store for one CLI
// invocation.
type engine struct {
	Manager *manager.Manager
	Store   *settings.Store
}

// startEngine builds and starts a manager for one CLI invocation. Failed
// operations are logged by the engine itself; the commands inspect item
// states for their exit status.
func startEngine(ctx context.Context, cfg *config.Config) (*engine, error) {
	store, err := settings.Open(cfg.SettingsPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open settings: %w", err)
	}

	m, err := manager.New(cfg, store, manager.Hooks{})
	if err != nil {
		return nil, err
	}
	if err := m.Start(ctx); err != nil {
		return nil, err
	}

	return &engine{Manager: m, Store: store}, nil
}

// waitDownloads blocks until all running downloads have finished. It polls
// the live item states; UpdateAll has already moved every pending item into
// the downloading state by the time it returns.
func (e *engine) waitDownloads(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		downloading := false
		for _, item := range e.Manager.All().Items() {
			if item.Downloading() {
				downloading = true
				break
			}
		}
		if !downloading {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return fmt.Errorf("downloads did not finish: %w", ctx.Err())
		}
	}
}
