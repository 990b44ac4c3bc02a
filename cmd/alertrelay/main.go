package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "alertrelay",
	Short: "Relay severe-weather alerts to the chat platform",
	Long: `alertrelay receives severe-weather alerts by webhook, drops duplicates and
alerts below the severity threshold, and publishes the rest to the chat
platform and to subscribers inside the alert area.

All settings come from the environment (see internal/config).`,
	SilenceUsage: true,
}

func main() {
	rootCmd.AddCommand(newServeCmd(), newReplayCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
