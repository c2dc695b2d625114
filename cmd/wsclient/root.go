package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "wsclient",
	Short: "wsclient is a self-healing WebSocket client",
	Long: `wsclient dials a WebSocket endpoint, reconnects one second after any
disconnect or error, and prints status transitions, lifecycle events and
inbound messages until it is interrupted.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newRunCmd(), newVersionCmd())
}
