package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewCleanupCmd creates the cleanup command.
func NewCleanupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Reconcile the cache directory without touching the network",
		Long: `Reconcile the cache directory against the cached catalog. Files
no item refers to are removed, recognized strays are adopted, and emptied
directories are pruned. The network is never used.`,
		RunE: runCleanup,
	}

	return cmd
}

func runCleanup(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	eng, err := startEngine(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer eng.Manager.Stop()

	eng.Manager.Reconcile()

	all := eng.Manager.All()
	fmt.Printf("Cache is tidy: %d items known, %d on disk\n",
		len(all.Items()), len(all.DownloadablesWithFile()))
	return nil
}
