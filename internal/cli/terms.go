package cli

import (
	"fmt"

	"github.com/skyroute/mapcache/internal/logger"
	"github.com/skyroute/mapcache/pkg/settings"
	"github.com/spf13/cobra"
)

// NewTermsCmd creates the terms command with subcommands. Automatic network
// access stays disabled until the terms of use have been accepted; explicit
// sync and update commands are always allowed.
func NewTermsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "terms",
		Short: "Manage consent to automatic network access",
		Long: `Show or change whether mapcache may contact the catalog server
on its own schedule. Without accepted terms only user-initiated commands
touch the network.`,
		RunE: runTermsShow,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "accept",
			Short: "Accept the terms and enable automatic updates",
			RunE: func(*cobra.Command, []string) error {
				return runTermsSet(true)
			},
		},
		&cobra.Command{
			Use:   "revoke",
			Short: "Revoke consent and disable automatic updates",
			RunE: func(*cobra.Command, []string) error {
				return runTermsSet(false)
			},
		},
	)

	return cmd
}

func runTermsShow(*cobra.Command, []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	if store.TermsAccepted() {
		fmt.Println("Terms accepted: automatic updates are enabled")
	} else {
		fmt.Println("Terms not accepted: automatic updates are disabled")
	}
	return nil
}

func runTermsSet(accepted bool) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	if err := store.SetTermsAccepted(accepted); err != nil {
		return err
	}
	logger.Success("Consent updated", logger.Fields{"accepted": accepted})
	return nil
}

func openStore() (*settings.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return settings.Open(cfg.SettingsPath())
}
