package cli

import (
	"fmt"

	"github.com/skyroute/mapcache/internal/logger"
	"github.com/spf13/cobra"
)

// NewSyncCmd creates the sync command.
func NewSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize the local cache with the remote catalog",
		Long: `Synchronize the local cache by downloading the latest catalog
document and reconciling the cache directory against it. Files the catalog no
longer offers are removed, or kept without a remote side if they were
downloaded before.`,
		RunE: runSync,
	}

	return cmd
}

func runSync(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	eng, err := startEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer eng.Manager.Stop()

	logger.Debug("fetching catalog", logger.Fields{"url": cfg.Settings.CatalogURL})
	if err := eng.Manager.Refresh(); err != nil {
		return fmt.Errorf("synchronization failed: %w", err)
	}

	all := eng.Manager.All()
	fmt.Printf("Catalog synchronized: %d items known, %d on disk\n",
		len(all.Items()), len(all.DownloadablesWithFile()))
	if all.Updatable() {
		fmt.Printf("Updates available: %s (run 'mapcache update')\n", all.UpdateSize())
	}

	logger.Success("Cache synchronized successfully")
	return nil
}
