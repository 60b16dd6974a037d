package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xtreamgames/xsync/internal/ui"
)

var identityCmd = &cobra.Command{
	Use:     "identity",
	GroupID: "advanced",
	Short:   "Show or change this device's cloud identity",
	Long: `The cloud identity scopes which cloud snapshots this device pulls. Devices
that adopt the same identity sync with each other.`,
}

var identityShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the cloud identity",
	Run: func(cmd *cobra.Command, args []string) {
		a := mustOpenApp(nil)
		defer a.Close()

		ident, ok, err := a.ids.Current()
		if err != nil {
			a.Close()
			exitf("failed to read cloud identity: %v", err)
		}
		if !ok {
			fmt.Println("No cloud identity yet; one is created on the first sync or backup.")
			return
		}
		p := printer()
		p.Field("Cloud ID", ident.ID)
		p.Field("Blob name", ident.BlobName())
	},
}

var identityAdoptCmd = &cobra.Command{
	Use:   "adopt <cloud-id>",
	Short: "Use another device's cloud identity",
	Long: `Replace this device's cloud identity with one from another device so both
pull the same cloud snapshots. The next sync merges the two devices' data.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		yes, _ := cmd.Flags().GetBool("yes")

		a := mustOpenApp(nil)
		defer a.Close()

		current, ok, err := a.ids.Current()
		if err != nil {
			a.Close()
			exitf("failed to read cloud identity: %v", err)
		}
		if ok && current.ID != args[0] && !yes {
			if !ui.IsInteractive() {
				a.Close()
				exitf("this device already uses %s; pass --yes to replace it", current.ID)
			}
			confirmed, err := ui.Confirm(fmt.Sprintf("Replace cloud identity %s?", current.ID))
			if err != nil || !confirmed {
				fmt.Println("Cancelled.")
				return
			}
		}

		ident, err := a.ids.Adopt(args[0])
		if err != nil {
			a.Close()
			exitf("%v", err)
		}
		printer().Success("Now using cloud identity %s", ident.ID)
	},
}

func init() {
	identityAdoptCmd.Flags().BoolP("yes", "y", false, "Replace an existing identity without asking")

	identityCmd.AddCommand(identityShowCmd)
	identityCmd.AddCommand(identityAdoptCmd)
	rootCmd.AddCommand(identityCmd)
}
