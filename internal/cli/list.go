package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/skyroute/mapcache/pkg/downloadable"
	"github.com/skyroute/mapcache/pkg/group"
	"github.com/skyroute/mapcache/pkg/manager"
	"github.com/spf13/cobra"
)

// NewListCmd creates the list command.
func NewListCmd() *cobra.Command {
	var (
		filesOnly     bool
		updatableOnly bool
		section       string
		category      string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the files the catalog offers",
		Long: `List all known files together with their local status.

By default every item of the cached catalog is shown. Use --files to restrict
the listing to files present on disk, --updatable to files with a pending
update, and --section or --category to narrow the scope.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runList(cmd, filesOnly, updatableOnly, section, category)
		},
	}

	cmd.Flags().BoolVar(&filesOnly, "files", false, "Only list files present on disk")
	cmd.Flags().BoolVar(&updatableOnly, "updatable", false, "Only list files with a pending update")
	cmd.Flags().StringVar(&section, "section", "", "Only list files of this section")
	cmd.Flags().StringVar(&category, "category", "", "Only list one category (aviation, base, databases)")

	return cmd
}

func runList(cmd *cobra.Command, filesOnly, updatableOnly bool, section, category string) error {
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

	grp, err := pickGroup(eng.Manager, category)
	if err != nil {
		return err
	}

	items := grp.Items()
	tabWriter := tabwriter.NewWriter(os.Stdout, 0, 0, TabWidth, ' ', 0)
	_, _ = fmt.Fprintln(tabWriter, "SECTION\tNAME\tSTATUS\tREMOTE SIZE")

	var shown int
	for _, item := range items {
		if section != "" && item.Section() != section {
			continue
		}
		if filesOnly && !item.HasLocalFile() {
			continue
		}
		if updatableOnly && !item.Updatable() {
			continue
		}
		shown++
		size := "?"
		if item.RemoteSize() > 0 {
			size = fmt.Sprintf("%d", item.RemoteSize())
		}
		_, _ = fmt.Fprintf(tabWriter, "%s\t%s\t%s\t%s\n", item.Section(), item.ObjectName(), itemStatus(item), size)
	}
	_ = tabWriter.Flush()

	if shown == 0 {
		fmt.Println("No matching files. Run 'mapcache sync' first.")
	}
	return nil
}

func pickGroup(m *manager.Manager, category string) (*group.Group, error) {
	switch category {
	case "":
		return m.All(), nil
	case "aviation":
		return m.AviationMaps(), nil
	case "base":
		return m.BaseMaps(), nil
	case "databases":
		return m.Databases(), nil
	default:
		return nil, fmt.Errorf("unknown category %q", category)
	}
}

func itemStatus(item *downloadable.Item) string {
	switch {
	case item.Downloading():
		return "downloading"
	case !item.HasRemoteURL():
		return "unsupported"
	case !item.HasLocalFile():
		return "not downloaded"
	case item.Updatable():
		return "update available"
	default:
		return "current"
	}
}
