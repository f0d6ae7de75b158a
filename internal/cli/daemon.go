package cli

import (
	"fmt"

	"github.com/skyroute/mapcache/internal/logger"
	"github.com/skyroute/mapcache/pkg/group"
	"github.com/skyroute/mapcache/pkg/manager"
	"github.com/skyroute/mapcache/pkg/settings"
	"github.com/spf13/cobra"
)

// NewDaemonCmd creates the daemon command.
func NewDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Keep the cache synchronized until interrupted",
		Long: `Run the synchronization engine in the foreground. The cache is
refreshed on the configured schedule and changed files are downloaded as
updates appear. Requires accepted terms (see 'mapcache terms accept').`,
		RunE: runDaemon,
	}

	return cmd
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := settings.Open(cfg.SettingsPath())
	if err != nil {
		return fmt.Errorf("failed to open settings: %w", err)
	}
	if !store.TermsAccepted() {
		return fmt.Errorf("terms not accepted, run 'mapcache terms accept' first")
	}

	ctx := cmd.Context()
	var m *manager.Manager
	m, err = manager.New(cfg, store, manager.Hooks{
		OnError: func(msg string) {
			logger.Warn(msg)
		},
		OnReconciled: func() {
			logger.Info("catalog reconciled")
			// Hooks run on the event loop; the command has to be
			// posted from the outside.
			go m.UpdateAll()
		},
		OnGroupChanged: func(g *group.Group, changed group.Changed) {
			if changed.Files {
				logger.Info("cache content changed", logger.Fields{"group": g.Name(), "files": len(g.Files())})
			}
		},
	})
	if err != nil {
		return err
	}
	if err := m.Start(ctx); err != nil {
		return err
	}
	defer m.Stop()

	logger.Info("engine running, press Ctrl+C to stop", logger.Fields{"catalog": cfg.Settings.CatalogURL})
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}
