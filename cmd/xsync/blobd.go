package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xtreamgames/xsync/internal/blobd"
	"github.com/xtreamgames/xsync/internal/logging"
)

var blobdCmd = &cobra.Command{
	Use:     "blobd",
	GroupID: "advanced",
	Short:   "Run a self-hosted blob server",
	Long: `Serve the blob protocol xsync syncs against, for development, CI or private
deployments. Point remote.base_url at http://<addr>/b to use it.

Backends:
  memory  blobs live until the process exits (default)
  sqlite  blobs are kept in blobd.sqlite_path
  redis   blobs are kept in Redis at blobd.redis_url`,
	Run: func(cmd *cobra.Command, args []string) {
		bc := cfg.Blobd
		if cmd.Flags().Changed("addr") {
			bc.Addr, _ = cmd.Flags().GetString("addr")
		}
		if cmd.Flags().Changed("backend") {
			bc.Backend, _ = cmd.Flags().GetString("backend")
		}

		logs, err := logging.New(logging.Options{
			File:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Quiet:      cfg.Log.Quiet,
		})
		if err != nil {
			exitf("failed to set up logging: %v", err)
		}
		defer logs.Close()

		ctx, cancel := signalContext()
		defer cancel()

		backend, err := blobd.OpenBackend(ctx, blobd.Options{
			Backend:    bc.Backend,
			SQLitePath: bc.SQLitePath,
			RedisURL:   bc.RedisURL,
		})
		if err != nil {
			exitf("%v", err)
		}
		defer backend.Close()

		server := blobd.NewServer(backend, blobd.Config{
			APIKey:          bc.APIKey,
			MaxPayloadBytes: bc.MaxPayloadBytes,
			Logger:          logs.Logger("blobd"),
		})

		fmt.Printf("Blob server on http://%s/b (%s backend). Press Ctrl+C to stop...\n", bc.Addr, bc.Backend)
		if err := server.ListenAndServe(ctx, bc.Addr); err != nil {
			exitf("%v", err)
		}
	},
}

func init() {
	blobdCmd.Flags().String("addr", "", "Listen address (default: blobd.addr)")
	blobdCmd.Flags().String("backend", "", "Storage backend: memory, sqlite or redis (default: blobd.backend)")

	rootCmd.AddCommand(blobdCmd)
}
