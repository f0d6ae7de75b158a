package cli

import (
	"fmt"
	"strings"

	"github.com/skyroute/mapcache/internal/logger"
	"github.com/skyroute/mapcache/pkg/downloadable"
	"github.com/spf13/cobra"
)

// NewUpdateCmd creates the update command.
func NewUpdateCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Download all files with a newer remote version",
		Long: `Download every file whose remote version differs from the local
copy, including files that have never been downloaded.

Use --dry-run to see what would be downloaded without fetching anything.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runUpdate(cmd, dryRun)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be downloaded without fetching anything")

	return cmd
}

func runUpdate(cmd *cobra.Command, dryRun bool) error {
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

	// Reconcile against the cached catalog so the updatable set is current.
	eng.Manager.Reconcile()

	all := eng.Manager.All()
	var pending int
	for _, item := range all.Items() {
		if item.Updatable() {
			pending++
			if dryRun {
				fmt.Printf("would download %s/%s (%s)\n", item.Section(), item.ObjectName(), item.RemoteURL())
			}
		}
	}

	if pending == 0 {
		fmt.Println("Everything is up to date")
		return nil
	}
	if dryRun {
		fmt.Printf("%d item(s) to download, %s\n", pending, all.UpdateSize())
		return nil
	}

	fmt.Printf("Downloading %d item(s), %s\n", pending, all.UpdateSize())
	eng.Manager.UpdateAll()
	if err := eng.waitDownloads(ctx); err != nil {
		return err
	}

	var failed []string
	for _, item := range all.Items() {
		if item.State() == downloadable.StateFailed {
			failed = append(failed, item.Section()+"/"+item.ObjectName())
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("downloads failed for: %s", strings.Join(failed, ", "))
	}

	logger.Success("All files are current")
	return nil
}
