package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "advanced",
	Short:   "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after applying defaults, the config file, .env and
XSYNC_* environment variables. Secrets are masked.`,
	Run: func(cmd *cobra.Command, args []string) {
		format, _ := cmd.Flags().GetString("format")
		if err := cfg.Encode(os.Stdout, format); err != nil {
			exitf("%v", err)
		}
	},
}

func init() {
	configShowCmd.Flags().StringP("format", "f", "toml", "Output format (toml|yaml)")

	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
