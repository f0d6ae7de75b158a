package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/skyroute/mapcache/pkg/mapinfo"
	"github.com/spf13/cobra"
)

// NewDescribeCmd creates the describe command.
func NewDescribeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "describe PATH",
		Short: "Show the metadata of a cached file",
		Long: `Show size, installation date and format-specific metadata of a
cached file. PATH may be absolute or relative to the cache directory.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runDescribe(args[0])
		},
	}

	return cmd
}

func runDescribe(path string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if _, statErr := os.Stat(path); statErr != nil && !filepath.IsAbs(path) {
		path = filepath.Join(cfg.MapsDir(), path)
	}

	info, err := mapinfo.Describe(path)
	if err != nil {
		return err
	}

	tabWriter := tabwriter.NewWriter(os.Stdout, 0, 0, TabWidth, ' ', 0)
	_, _ = fmt.Fprintf(tabWriter, "path\t%s\n", info.Path)
	_, _ = fmt.Fprintf(tabWriter, "size\t%s\n", info.SizeString())
	_, _ = fmt.Fprintf(tabWriter, "installed\t%s\n", info.Installed.Format("2006-01-02 15:04"))
	for _, detail := range info.Details {
		_, _ = fmt.Fprintf(tabWriter, "%s\t%s\n", detail.Key, detail.Value)
	}
	_ = tabWriter.Flush()

	return nil
}
