package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/xtreamgames/xsync/internal/share"
	"github.com/xtreamgames/xsync/internal/ui"
)

var shareCmd = &cobra.Command{
	Use:     "share",
	GroupID: "sync",
	Short:   "Share collections with another device or person",
}

var shareExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Publish the local collections and print a share link",
	Long: `Publish a snapshot of the local collections as a standalone blob and print
its share link (or bare id when share.base_url is not configured).

Exporting does not create or use this device's cloud identity.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signalContext()
		defer cancel()

		a := mustOpenApp(nil)
		finishOutcome(a, a.engine.ExportSnapshot(ctx))
	},
}

var shareImportCmd = &cobra.Command{
	Use:   "import <share-link-or-id>",
	Short: "Load a shared snapshot into the local collections",
	Long: `Fetch a shared snapshot by link or id and apply it locally.

--policy merge adds the shared games to yours (newest updatedAt wins);
--policy replace discards your games first. When --policy is omitted on an
interactive terminal you are asked; otherwise merge is used. A shared
playlist, when present, replaces the local one.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		policyName, _ := cmd.Flags().GetString("policy")

		policy, err := resolvePolicy(policyName)
		if err != nil {
			if errors.Is(err, ui.ErrAborted) {
				os.Exit(1)
			}
			exitf("%v", err)
		}

		ctx, cancel := signalContext()
		defer cancel()

		a := mustOpenApp(nil)
		finishOutcome(a, a.engine.ImportSnapshot(ctx, args[0], policy))
	},
}

// resolvePolicy parses name, prompting when it is empty and a terminal is
// attached.
func resolvePolicy(name string) (share.Policy, error) {
	if name != "" {
		return share.ParsePolicy(name)
	}
	if !ui.IsInteractive() {
		return share.PolicyMerge, nil
	}
	return ui.PromptPolicy()
}

func init() {
	shareImportCmd.Flags().String("policy", "", "How to combine shared games with yours (merge|replace)")

	shareCmd.AddCommand(shareExportCmd)
	shareCmd.AddCommand(shareImportCmd)
	rootCmd.AddCommand(shareCmd)
}
