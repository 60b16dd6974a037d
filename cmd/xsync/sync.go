package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xtreamgames/xsync/internal/engine"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Pull, merge and push now",
	Long: `Run a full sync immediately:
  1. Pull the latest cloud snapshot for this device's cloud identity
  2. Merge it into the local collections (newest updatedAt wins per id)
  3. Save the merged collections locally
  4. Push the result as a new snapshot

If the pull fails the local data is still pushed and the result is reported
as degraded.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signalContext()
		defer cancel()

		a := mustOpenApp(nil)
		finishOutcome(a, a.engine.ManualSync(ctx))
	},
}

var backupCmd = &cobra.Command{
	Use:     "backup",
	GroupID: "sync",
	Short:   "Push the local collections to the cloud",
	Long: `Push the local collections as a new cloud snapshot without pulling first.

A cloud identity is created on first use. The pushed snapshot is also kept
locally as the last backup.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signalContext()
		defer cancel()

		a := mustOpenApp(nil)
		finishOutcome(a, a.engine.Backup(ctx))
	},
}

var restoreCmd = &cobra.Command{
	Use:     "restore",
	GroupID: "sync",
	Short:   "Merge the latest cloud snapshot into local data",
	Long: `Fetch the latest cloud snapshot and merge it into the local collections.

Nothing is pushed. Local records newer than their cloud copies are kept.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signalContext()
		defer cancel()

		a := mustOpenApp(nil)
		finishOutcome(a, a.engine.Restore(ctx))
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show sync status and local record counts",
	Run: func(cmd *cobra.Command, args []string) {
		asJSON, _ := cmd.Flags().GetBool("json")

		a := mustOpenApp(nil)
		defer a.Close()

		report, err := a.engine.Status()
		if err != nil {
			a.Close()
			exitf("failed to read status: %v", err)
		}
		set, err := a.store.ReadSet()
		if err != nil {
			a.Close()
			exitf("failed to read local collections: %v", err)
		}

		if asJSON {
			out := struct {
				engine.StatusReport
				State     string `json:"state"`
				Primary   int    `json:"primary"`
				Secondary int    `json:"secondary"`
				Store     string `json:"store"`
			}{
				StatusReport: report,
				State:        report.State.String(),
				Primary:      len(set.Primary),
				Secondary:    len(set.Secondary),
				Store:        a.store.Path(),
			}
			data, _ := json.MarshalIndent(out, "", "  ")
			fmt.Fprintln(os.Stdout, string(data))
			return
		}

		p := printer()
		p.Status(report)
		p.Field("Games", fmt.Sprintf("%d", len(set.Primary)))
		p.Field("Playlist", fmt.Sprintf("%d", len(set.Secondary)))
		p.Field("Store", a.store.Path())
	},
}

func init() {
	statusCmd.Flags().Bool("json", false, "Output JSON")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(statusCmd)
}
