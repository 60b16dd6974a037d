// Command xsync keeps a device's local game and playlist collections in sync
// with a remote blob store.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xtreamgames/xsync/internal/config"
)

var (
	configPath string
	noColor    bool
	forceOff   bool

	// cfg is loaded once per invocation by rootCmd's PersistentPreRunE.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "xsync",
	Short: "Offline-first sync for Xtream collections",
	Long: `xsync keeps the local game and playlist collections of this device in sync
with a remote JSON blob store.

Local data always wins while offline. When online, every sync pulls the
latest cloud snapshot for this device's cloud identity, merges it by record
id (newest updatedAt wins), saves the result locally and pushes it back.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if forceOff {
			loaded.Sync.Offline = true
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "data", Title: "Local data:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $XDG_CONFIG_HOME/xsync/xsync.toml)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&forceOff, "offline", false, "Work offline: never contact the remote store")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
